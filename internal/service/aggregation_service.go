package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/period"
	"github.com/boddenberg/fintrack-insights/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const aggregationCache = "aggregation"

// AggregationService answers the dashboard's spending questions: current
// period totals and week/month breakdowns. Unknown users simply have no
// expenses; only store failures are errors.
type AggregationService struct {
	expenses port.ExpenseStore
	cache    port.Cache[any] // nil disables caching
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregationService creates the aggregation service.
func NewAggregationService(
	expenses port.ExpenseStore,
	cache port.Cache[any],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AggregationService {
	return &AggregationService{
		expenses: expenses,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides how "today" is determined.
func (s *AggregationService) WithClock(now func() time.Time) *AggregationService {
	s.now = now
	return s
}

// SumForPeriod totals the user's expenses in the current week, month or year.
// With caching enabled the total comes from the same snapshot the
// breakdowns use, so every endpoint agrees.
func (s *AggregationService) SumForPeriod(ctx context.Context, userID string, kind period.Kind) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "AggregationService.SumForPeriod")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("period", string(kind)))

	start, end, err := period.Range(s.now(), kind)
	if err != nil {
		return decimal.Zero, err
	}

	if s.cache != nil {
		entries, err := s.entries(ctx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, e := range entries {
			if d := period.Date(e.Date); !d.Before(start) && !d.After(end) {
				total = total.Add(e.Amount)
			}
		}
		return total, nil
	}

	total, err := s.expenses.SumByUserAndDateRange(ctx, userID, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum %s: %w", kind, err)
	}
	return total, nil
}

// Summary computes week, month and year-to-date totals concurrently.
func (s *AggregationService) Summary(ctx context.Context, userID string) (*domain.PeriodSummary, error) {
	ctx, span := tracer.Start(ctx, "AggregationService.Summary")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("aggregation.summary", time.Since(start)) }()

	summary := &domain.PeriodSummary{
		UserID: userID,
		AsOf:   period.Date(s.now()).Format(domain.DateLayout),
	}

	g, gCtx := errgroup.WithContext(ctx)
	for kind, dst := range map[period.Kind]*decimal.Decimal{
		period.Week:  &summary.Week,
		period.Month: &summary.Month,
		period.Year:  &summary.Year,
	} {
		g.Go(func() error {
			total, err := s.SumForPeriod(gCtx, userID, kind)
			if err != nil {
				return err
			}
			*dst = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("period summary failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return summary, nil
}

// MonthlyBreakdown sums all of the user's expenses per month label. The
// same month of different years shares a bucket.
func (s *AggregationService) MonthlyBreakdown(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "AggregationService.MonthlyBreakdown")
	defer span.End()

	entries, err := s.entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return period.Monthly(entries), nil
}

// WeeklyBreakdown sums all of the user's expenses per Monday-based week,
// in calendar order.
func (s *AggregationService) WeeklyBreakdown(ctx context.Context, userID string) (period.Breakdown, error) {
	ctx, span := tracer.Start(ctx, "AggregationService.WeeklyBreakdown")
	defer span.End()

	entries, err := s.entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return period.Weekly(entries), nil
}

// Invalidate drops the cached expense snapshot of userID. The expense write
// path calls it after every save or delete.
func (s *AggregationService) Invalidate(userID string) {
	if s.cache != nil {
		s.cache.Delete(entriesKey(userID))
	}
}

func entriesKey(userID string) string { return "entries:" + userID }

// entries returns the user's dated amounts, from the cache when enabled.
func (s *AggregationService) entries(ctx context.Context, userID string) ([]period.Entry, error) {
	key := entriesKey(userID)
	if cached, ok := s.cached(key); ok {
		if entries, ok := cached.([]period.Entry); ok {
			return entries, nil
		}
	}

	expenses, err := s.expenses.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	entries := period.Entries(expenses)
	s.store(key, entries)
	return entries, nil
}

func (s *AggregationService) cached(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if ok {
		s.metrics.IncrCacheHit(aggregationCache)
	} else {
		s.metrics.IncrCacheMiss(aggregationCache)
	}
	return v, ok
}

func (s *AggregationService) store(key string, v any) {
	if s.cache != nil {
		s.cache.Set(key, v)
	}
}
