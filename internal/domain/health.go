package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// InsightMetrics is returned by GET /v1/metrics/insights.
type InsightMetrics struct {
	AnalysisRuns       int64   `json:"analysisRuns"`
	AnalysisFailures   int64   `json:"analysisFailures"`
	FailureRate        float64 `json:"failureRate"`
	InsightsRecorded   int64   `json:"insightsRecorded"`
	EngineDiagnostics  int64   `json:"engineDiagnostics"`
	BatchUsersOK       int64   `json:"batchUsersOk"`
	BatchUsersFailed   int64   `json:"batchUsersFailed"`
	AggregationHitRate float64 `json:"aggregationCacheHitRate"`
	Period             string  `json:"period"`
}
