package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/period"
	"github.com/boddenberg/fintrack-insights/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// summaryResponse is the dashboard's period summary with exact numeric amounts.
type summaryResponse struct {
	UserID string      `json:"user_id"`
	Week   json.Number `json:"week"`
	Month  json.Number `json:"month"`
	Year   json.Number `json:"year"`
	AsOf   string      `json:"as_of"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// ============================================================
// Insights
// ============================================================

func insightHandler(svc *service.InsightService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "insights unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/insights")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("user.id", userID))

		_, raw, err := svc.GenerateInsight(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// The engine's JSON is passed through untouched.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
	}
}

func insightHistoryHandler(svc *service.InsightService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "insights unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/insights/history")
		defer span.End()

		insights, err := svc.ListInsights(ctx, chi.URLParam(r, "userId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, insights)
	}
}

// ============================================================
// Aggregation
// ============================================================

func periodTotalHandler(svc *service.AggregationService, kind period.Kind, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "analytics unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/"+string(kind))
		defer span.End()

		total, err := svc.SumForPeriod(ctx, chi.URLParam(r, "userId"), kind)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, number(total))
	}
}

func summaryHandler(svc *service.AggregationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "analytics unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/summary")
		defer span.End()

		s, err := svc.Summary(ctx, chi.URLParam(r, "userId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toSummaryResponse(s))
	}
}

func toSummaryResponse(s *domain.PeriodSummary) summaryResponse {
	return summaryResponse{
		UserID: s.UserID,
		Week:   number(s.Week),
		Month:  number(s.Month),
		Year:   number(s.Year),
		AsOf:   s.AsOf,
	}
}

func weeklyBreakdownHandler(svc *service.AggregationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "analytics unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/weekly-breakdown")
		defer span.End()

		b, err := svc.WeeklyBreakdown(ctx, chi.URLParam(r, "userId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func monthlyBreakdownHandler(svc *service.AggregationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeError(w, http.StatusServiceUnavailable, "analytics unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "GET /v1/analytics/{userId}/monthly-breakdown")
		defer span.End()

		m, err := svc.MonthlyBreakdown(ctx, chi.URLParam(r, "userId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		out := make(map[string]json.Number, len(m))
		for label, amount := range m {
			out[label] = number(amount)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
