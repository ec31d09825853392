package main

import (
	"context"
	"fmt"

	"github.com/boddenberg/fintrack-insights/internal/config"
	"github.com/boddenberg/fintrack-insights/internal/infra/analysis"
	"github.com/boddenberg/fintrack-insights/internal/infra/cache"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/infra/resilience"
	"github.com/boddenberg/fintrack-insights/internal/infra/sqlite"
	"github.com/boddenberg/fintrack-insights/internal/port"
	"github.com/boddenberg/fintrack-insights/internal/service"

	"go.uber.org/zap"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	db          *sqlite.DB
	aggCache    *cache.InMemory[any]
	aggregation *service.AggregationService
	insights    *service.InsightService
	scheduler   *service.Scheduler

	shutdownTracer func(context.Context) error
}

// loadApp reads configuration and wires the application.
func loadApp() (*app, error) {
	// --- Config ---
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("database_path", cfg.DatabasePath),
		zap.String("analysis_engine", cfg.AnalysisEngine),
		zap.Duration("analysis_timeout", cfg.AnalysisTimeout),
		zap.Int("analysis_max_concurrency", cfg.AnalysisMaxConcurrency),
		zap.String("insight_schedule", cfg.InsightSchedule),
		zap.Duration("aggregation_cache_ttl", cfg.AggregationCacheTTL),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "fintrack-insights")
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	users := sqlite.NewUserStore(db)
	expenses := sqlite.NewExpenseStore(db)
	insights := sqlite.NewInsightStore(db)

	// --- Analysis engine ---
	var engine port.InsightEngine
	switch cfg.AnalysisEngine {
	case config.EngineBuiltin:
		engine = analysis.NewBuiltin(metrics)
	default:
		cb := analysis.NewBreaker(resilience.BreakerSettings{
			OpenTimeout: 2 * cfg.AnalysisTimeout,
		})
		engine = analysis.NewGateway(analysis.Config{
			Executable:     cfg.AnalysisExecutable,
			Script:         cfg.AnalysisScript,
			Timeout:        cfg.AnalysisTimeout,
			MaxConcurrency: cfg.AnalysisMaxConcurrency,
		}, cb, metrics, logger)
	}

	// --- Cache ---
	a := &app{cfg: cfg, logger: logger, metrics: metrics, db: db, shutdownTracer: shutdown}
	var aggCache port.Cache[any]
	if cfg.AggregationCacheTTL > 0 {
		a.aggCache = cache.New[any](cfg.AggregationCacheTTL)
		aggCache = a.aggCache
	}

	// --- Services ---
	a.aggregation = service.NewAggregationService(expenses, aggCache, metrics, logger)
	expenses.OnWrite(a.aggregation.Invalidate)
	a.insights = service.NewInsightService(expenses, users, insights, engine, metrics, logger)
	a.scheduler, err = service.NewScheduler(cfg.InsightSchedule, users, a.insights, metrics, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) close() {
	if a.aggCache != nil {
		a.aggCache.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	if err := a.shutdownTracer(context.Background()); err != nil {
		a.logger.Warn("tracer shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
