package observability

import (
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Analysis outcome labels.
const (
	AnalysisSuccess   = "success"
	AnalysisLaunch    = "launch_error"
	AnalysisWrite     = "write_error"
	AnalysisExit      = "exit_error"
	AnalysisMalformed = "malformed"
	AnalysisTimeout   = "timeout"
	AnalysisRejected  = "circuit_open"
	AnalysisCanceled  = "canceled"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	analysisRuns      *prometheus.CounterVec
	engineDiagnostics prometheus.Counter
	insightsRecorded  prometheus.Counter
	batchUsers        *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fintrack_operation_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		analysisRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_analysis_runs_total",
				Help: "Analysis engine invocations by outcome.",
			},
			[]string{"outcome"},
		),
		engineDiagnostics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_analysis_diagnostics_total",
				Help: "Analysis runs that wrote to standard error.",
			},
		),
		insightsRecorded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_insights_recorded_total",
				Help: "Insights persisted.",
			},
		),
		batchUsers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_batch_users_total",
				Help: "Users processed by scheduled batch runs.",
			},
			[]string{"status"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrAnalysis counts one analysis engine run with its outcome.
func (m *Metrics) IncrAnalysis(outcome string) {
	m.analysisRuns.WithLabelValues(outcome).Inc()
}

// IncrEngineDiagnostics counts a run that produced stderr output.
func (m *Metrics) IncrEngineDiagnostics() {
	m.engineDiagnostics.Inc()
}

// IncrInsightRecorded counts a persisted insight.
func (m *Metrics) IncrInsightRecorded() {
	m.insightsRecorded.Inc()
}

// IncrBatchUser counts a user processed by a batch run ("success" or "error").
func (m *Metrics) IncrBatchUser(status string) {
	m.batchUsers.WithLabelValues(status).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot returns cumulative insight metrics for GET /v1/metrics/insights.
func (m *Metrics) Snapshot() *domain.InsightMetrics {
	var runs, failures float64
	for _, outcome := range []string{
		AnalysisSuccess, AnalysisLaunch, AnalysisWrite, AnalysisExit,
		AnalysisMalformed, AnalysisTimeout, AnalysisRejected,
	} {
		v := getCounterValue(m.analysisRuns, outcome)
		runs += v
		if outcome != AnalysisSuccess {
			failures += v
		}
	}

	failureRate := float64(0)
	if runs > 0 {
		failureRate = failures / runs
	}

	hits := getCounterValue(m.cacheHits, "aggregation")
	misses := getCounterValue(m.cacheMisses, "aggregation")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.InsightMetrics{
		AnalysisRuns:       int64(runs),
		AnalysisFailures:   int64(failures),
		FailureRate:        failureRate,
		InsightsRecorded:   int64(readCounter(m.insightsRecorded)),
		EngineDiagnostics:  int64(readCounter(m.engineDiagnostics)),
		BatchUsersOK:       int64(getCounterValue(m.batchUsers, "success")),
		BatchUsersFailed:   int64(getCounterValue(m.batchUsers, "error")),
		AggregationHitRate: hitRate,
		Period:             "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
