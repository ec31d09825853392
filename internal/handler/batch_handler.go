package handler

import (
	"net/http"

	"github.com/boddenberg/fintrack-insights/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func batchRunHandler(sched *service.Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sched == nil {
			writeError(w, http.StatusServiceUnavailable, "batch scheduler unavailable")
			return
		}
		ctx, span := tracer.Start(r.Context(), "POST /v1/batch/run")
		defer span.End()

		report := sched.RunOnce(ctx)
		span.SetAttributes(
			attribute.Int("batch.succeeded", report.Succeeded),
			attribute.Int("batch.failed", report.Failed),
		)
		logger.Info("batch run triggered over http",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)

		status := http.StatusOK
		if report.Error != "" {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, report)
	}
}

func batchLastHandler(sched *service.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sched == nil {
			writeError(w, http.StatusServiceUnavailable, "batch scheduler unavailable")
			return
		}
		report := sched.LastReport()
		if report == nil {
			writeError(w, http.StatusNotFound, "no batch run yet")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
