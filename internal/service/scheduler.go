package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/config"
	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/port"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InsightGenerator is the per-user pipeline the scheduler drives.
type InsightGenerator interface {
	GenerateInsight(ctx context.Context, userID string) (*domain.Insight, string, error)
}

// Scheduler periodically generates an insight for every user. Users are
// processed one at a time and one user's failure never stops the batch.
type Scheduler struct {
	users     port.UserStore
	generator InsightGenerator
	metrics   *observability.Metrics
	logger    *zap.Logger

	cron     *cron.Cron
	schedule cron.Schedule
	spec     string

	mu   sync.Mutex
	last *domain.BatchReport
}

// NewScheduler creates a scheduler running on spec, a six-field cron
// expression with a leading seconds field.
func NewScheduler(
	spec string,
	users port.UserStore,
	generator InsightGenerator,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Scheduler, error) {
	schedule, err := config.ScheduleParser.Parse(spec)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "schedule", Message: err.Error()}
	}

	cronLogger := observability.NewCronLogger(logger)
	s := &Scheduler{
		users:     users,
		generator: generator,
		metrics:   metrics,
		logger:    logger,
		schedule:  schedule,
		spec:      spec,
		cron: cron.New(
			cron.WithParser(config.ScheduleParser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.RunOnce(context.Background()) }))
	return s, nil
}

// Start begins firing the recurring job in the background.
func (s *Scheduler) Start() {
	s.logger.Info("insight scheduler started",
		zap.String("schedule", s.spec),
		zap.Time("next_run", s.schedule.Next(time.Now())),
	)
	s.cron.Start()
}

// Stop prevents further runs and waits for a running batch to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("insight scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReport returns the report of the most recent completed run, or nil.
func (s *Scheduler) LastReport() *domain.BatchReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce performs one batch pass over all users and returns its report.
func (s *Scheduler) RunOnce(ctx context.Context) *domain.BatchReport {
	ctx, span := tracer.Start(ctx, "Scheduler.RunOnce")
	defer span.End()

	report := &domain.BatchReport{
		StartedAt: time.Now().UTC(),
		Results:   make([]domain.UserResult, 0),
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}()

	users, err := s.users.FindAll(ctx)
	if err != nil {
		s.logger.Error("batch aborted: listing users failed", zap.Error(err))
		report.Error = err.Error()
		return report
	}
	span.SetAttributes(attribute.Int("batch.users", len(users)))

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			report.Error = err.Error()
			break
		}

		res := s.runUser(ctx, u.ID)
		report.Results = append(report.Results, res)
		if res.OK() {
			report.Succeeded++
			s.metrics.IncrBatchUser("success")
		} else {
			report.Failed++
			s.metrics.IncrBatchUser("error")
		}
	}

	s.logger.Info("insight batch finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report
}

// runUser isolates one user's pipeline, turning errors and panics into a
// failed result.
func (s *Scheduler) runUser(ctx context.Context, userID string) (res domain.UserResult) {
	res.UserID = userID
	defer func() {
		if r := recover(); r != nil {
			res.InsightID = ""
			res.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("insight pipeline panicked", zap.String("user_id", userID), zap.Any("panic", r))
		}
	}()

	insight, _, err := s.generator.GenerateInsight(ctx, userID)
	if err != nil {
		s.logger.Warn("insight generation failed", zap.String("user_id", userID), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.InsightID = insight.ID
	return res
}
