package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Mocks ---

type mockExpenseStore struct {
	expenses  []domain.Expense
	err       error
	findCalls int
}

func (m *mockExpenseStore) FindByUser(_ context.Context, userID string) ([]domain.Expense, error) {
	m.findCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Expense, 0)
	for _, e := range m.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockExpenseStore) SumByUserAndDateRange(_ context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	total := decimal.Zero
	for _, e := range m.expenses {
		if e.UserID == userID && !e.ExpenseDate.Before(start) && !e.ExpenseDate.After(end) {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

type mockUserStore struct {
	users []domain.User
	err   error
}

func (m *mockUserStore) FindByID(_ context.Context, userID string) (*domain.User, error) {
	for _, u := range m.users {
		if u.ID == userID {
			u := u
			return &u, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
}

func (m *mockUserStore) FindAll(_ context.Context) ([]domain.User, error) {
	return m.users, m.err
}

type mockInsightStore struct {
	mu    sync.Mutex
	saved []domain.Insight
	err   error
}

func (m *mockInsightStore) Save(_ context.Context, in *domain.Insight) (*domain.Insight, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *in
	out.ID = uuid.NewString()
	out.CreatedAt = time.Now()
	m.saved = append(m.saved, out)
	return &out, nil
}

func (m *mockInsightStore) ListByUser(_ context.Context, userID string) ([]domain.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Insight, 0)
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].UserID == userID {
			out = append(out, m.saved[i])
		}
	}
	return out, nil
}

// mockEngine answers per user with a fixed result or error. It records the
// requests it was given.
type mockEngine struct {
	result   *domain.InsightResult
	errFor   map[string]error
	panicFor string
	got      [][]domain.InsightRequest
}

func (m *mockEngine) ComputeInsight(_ context.Context, reqs []domain.InsightRequest) (*domain.InsightResult, error) {
	m.got = append(m.got, reqs)
	if len(reqs) > 0 {
		if reqs[0].UserID == m.panicFor {
			panic("engine exploded")
		}
		if err := m.errFor[reqs[0].UserID]; err != nil {
			return nil, err
		}
	}
	return m.result, nil
}

// --- Fixtures ---

func mustDate(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func expense(userID, amount, date, category string) domain.Expense {
	return domain.Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      decimal.RequireFromString(amount),
		Description: category,
		Category:    category,
		PayMethod:   "card",
		ExpenseDate: mustDate(date),
	}
}
