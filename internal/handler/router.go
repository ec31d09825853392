package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/period"
	"github.com/boddenberg/fintrack-insights/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves. Nil services leave their
// routes answering 503.
type Deps struct {
	Aggregation *service.AggregationService
	Insights    *service.InsightService
	Scheduler   *service.Scheduler
	Database    Pinger
	Metrics     *observability.Metrics
	Logger      *zap.Logger

	// JWTSecret enables bearer authentication on /v1 when non-empty.
	JWTSecret []byte
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Database))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if len(d.JWTSecret) > 0 {
			r.Use(JWTAuthMiddleware(d.JWTSecret, logger))
		}

		r.Get("/metrics/insights", insightMetricsHandler(d.Metrics))

		// Analytics, per user
		r.Route("/analytics/{userId}", func(r chi.Router) {
			r.Use(UserIDMiddleware(logger))

			r.Get("/insights", insightHandler(d.Insights, logger))
			r.Get("/insights/history", insightHistoryHandler(d.Insights, logger))

			r.Get("/weekly", periodTotalHandler(d.Aggregation, period.Week, logger))
			r.Get("/monthly", periodTotalHandler(d.Aggregation, period.Month, logger))
			r.Get("/yearly", periodTotalHandler(d.Aggregation, period.Year, logger))
			r.Get("/summary", summaryHandler(d.Aggregation, logger))

			r.Get("/weekly-breakdown", weeklyBreakdownHandler(d.Aggregation, logger))
			r.Get("/monthly-breakdown", monthlyBreakdownHandler(d.Aggregation, logger))
		})

		// Batch runs span every user: operators only
		r.Route("/batch", func(r chi.Router) {
			if len(d.JWTSecret) > 0 {
				r.Use(RequireRoleMiddleware(RoleOperator, logger))
			}

			r.Post("/run", batchRunHandler(d.Scheduler, logger))
			r.Get("/last", batchLastHandler(d.Scheduler))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "fintrack-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if db != nil {
			start := time.Now()
			err := db.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: "sqlite", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = s.Status
				break
			}
		}

		code := http.StatusOK
		if overallStatus == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, domain.HealthStatus{Status: overallStatus, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func insightMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
