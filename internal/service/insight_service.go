package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// InsightService runs the insight pipeline for one user: project expenses,
// ask the analysis engine, record the answer.
type InsightService struct {
	expenses port.ExpenseStore
	users    port.UserStore
	insights port.InsightStore
	engine   port.InsightEngine
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewInsightService creates the insight service with all dependencies injected.
func NewInsightService(
	expenses port.ExpenseStore,
	users port.UserStore,
	insights port.InsightStore,
	engine port.InsightEngine,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *InsightService {
	return &InsightService{
		expenses: expenses,
		users:    users,
		insights: insights,
		engine:   engine,
		metrics:  metrics,
		logger:   logger,
	}
}

// GenerateInsight analyzes the user's expenses, persists the result and
// returns it along with the engine's raw JSON text. Nothing is persisted
// when the engine fails.
func (s *InsightService) GenerateInsight(ctx context.Context, userID string) (*domain.Insight, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	ctx, span := tracer.Start(ctx, "InsightService.GenerateInsight")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("insight.generate", time.Since(start)) }()

	expenses, err := s.expenses.FindByUser(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("list expenses: %w", err)
	}

	result, err := s.engine.ComputeInsight(ctx, BuildInsightRequests(expenses))
	if err != nil {
		s.logger.Error("analysis engine failed",
			zap.String("user_id", userID),
			zap.Int("expense_count", len(expenses)),
			zap.Error(err),
		)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("analysis: %w", err)
	}

	insight, err := s.recordInsight(ctx, userID, result)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", err
	}

	s.logger.Info("insight recorded",
		zap.String("user_id", userID),
		zap.String("insight_id", insight.ID),
		zap.String("label", insight.Label),
	)
	return insight, result.Raw, nil
}

// ListInsights returns the user's recorded insights, newest first.
func (s *InsightService) ListInsights(ctx context.Context, userID string) ([]domain.Insight, error) {
	ctx, span := tracer.Start(ctx, "InsightService.ListInsights")
	defer span.End()

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.insights.ListByUser(ctx, userID)
}

// recordInsight persists result for userID. Suggestions and anomalies are
// stored as canonical JSON text, or "" when the engine sent none.
func (s *InsightService) recordInsight(ctx context.Context, userID string, result *domain.InsightResult) (*domain.Insight, error) {
	ctx, span := tracer.Start(ctx, "InsightService.recordInsight")
	defer span.End()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	suggestions, err := canonicalJSON(result.Suggestions)
	if err != nil {
		return nil, &domain.ErrMalformedResponse{Service: "analysis-engine", Err: fmt.Errorf("suggestions: %w", err)}
	}
	anomalies, err := canonicalJSON(result.Anomalies)
	if err != nil {
		return nil, &domain.ErrMalformedResponse{Service: "analysis-engine", Err: fmt.Errorf("anomalies: %w", err)}
	}

	saved, err := s.insights.Save(ctx, &domain.Insight{
		UserID:      user.ID,
		Label:       result.Label,
		Trend:       result.Trend,
		TopCategory: result.TopCategory,
		Suggestions: suggestions,
		Anomalies:   anomalies,
	})
	if err != nil {
		return nil, fmt.Errorf("save insight: %w", err)
	}
	s.metrics.IncrInsightRecorded()
	return saved, nil
}

// canonicalJSON re-encodes raw with sorted object keys and compact
// spacing. Numbers keep their original text.
func canonicalJSON(raw json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
