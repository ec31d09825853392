// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/shopspring/decimal"
)

// ExpenseStore reads a user's expenses.
type ExpenseStore interface {
	FindByUser(ctx context.Context, userID string) ([]domain.Expense, error)
	// SumByUserAndDateRange sums amounts dated within [start, end], inclusive.
	// It returns zero when no expense matches.
	SumByUserAndDateRange(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error)
}

// UserStore resolves users.
type UserStore interface {
	// FindByID returns *domain.ErrNotFound when the user does not exist.
	FindByID(ctx context.Context, userID string) (*domain.User, error)
	FindAll(ctx context.Context) ([]domain.User, error)
}

// InsightStore persists insights. There is intentionally no update operation.
type InsightStore interface {
	// Save assigns ID and CreatedAt when absent and returns the stored insight.
	Save(ctx context.Context, insight *domain.Insight) (*domain.Insight, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Insight, error)
}

// InsightEngine computes an insight from a user's projected expenses.
type InsightEngine interface {
	ComputeInsight(ctx context.Context, requests []domain.InsightRequest) (*domain.InsightResult, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
