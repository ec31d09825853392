package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/handler"
	"github.com/boddenberg/fintrack-insights/internal/infra/analysis"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/infra/sqlite"
	"github.com/boddenberg/fintrack-insights/internal/port"
	"github.com/boddenberg/fintrack-insights/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type failingEngine struct{}

func (failingEngine) ComputeInsight(context.Context, []domain.InsightRequest) (*domain.InsightResult, error) {
	return nil, &domain.ErrMalformedResponse{Service: "analysis-engine", Err: errors.New("Traceback (most recent call last)")}
}

// canceledEngine behaves like an engine whose caller went away mid-run.
type canceledEngine struct{}

func (canceledEngine) ComputeInsight(context.Context, []domain.InsightRequest) (*domain.InsightResult, error) {
	return nil, context.Canceled
}

type testEnv struct {
	router   http.Handler
	userID   string
	insights *sqlite.InsightStore
}

func newTestEnv(t *testing.T, engine port.InsightEngine, secret []byte) *testEnv {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserStore(db)
	expenses := sqlite.NewExpenseStore(db)
	insights := sqlite.NewInsightStore(db)
	ctx := context.Background()

	user, err := users.SaveUser(ctx, &domain.User{Username: "alice"})
	if err != nil {
		t.Fatalf("save user: %v", err)
	}
	for _, e := range []struct{ amount, date, category string }{
		{"10", "2025-07-14", "food"},
		{"20", "2025-07-16", "health"},
		{"50", "2025-07-21", "items"},
	} {
		d, _ := time.Parse(domain.DateLayout, e.date)
		if _, err := expenses.SaveExpense(ctx, &domain.Expense{
			UserID: user.ID, Amount: decimal.RequireFromString(e.amount),
			Category: e.category, PayMethod: "upi", ExpenseDate: d,
		}); err != nil {
			t.Fatalf("save expense: %v", err)
		}
	}

	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	if engine == nil {
		engine = analysis.NewBuiltin(metrics)
	}

	agg := service.NewAggregationService(expenses, nil, metrics, logger).
		WithClock(func() time.Time { return time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC) })
	insightSvc := service.NewInsightService(expenses, users, insights, engine, metrics, logger)
	sched, err := service.NewScheduler("0 0 1 1 * *", users, insightSvc, metrics, logger)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	return &testEnv{
		router: handler.NewRouter(handler.Deps{
			Aggregation: agg,
			Insights:    insightSvc,
			Scheduler:   sched,
			Database:    db,
			Metrics:     metrics,
			Logger:      logger,
			JWTSecret:   secret,
		}),
		userID:   user.ID,
		insights: insights,
	}
}

func (e *testEnv) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var health domain.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "healthy" || len(health.Services) != 2 {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestReadyzAndPing(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, path := range []string{"/readyz", "/ping"} {
		if rec := env.do(http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/insights", "")

	rec := env.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fintrack_analysis_runs_total") {
		t.Error("expected application metrics on /metrics")
	}

	rec = env.do(http.MethodGet, "/v1/metrics/insights", "")
	var snap domain.InsightMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.AnalysisRuns != 1 || snap.InsightsRecorded != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestInvalidUserID(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/not-a-uuid/weekly", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestPeriodTotals(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := map[string]string{
		"weekly":  "50",
		"monthly": "80",
		"yearly":  "80",
	}
	for route, want := range tests {
		rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/"+route, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", route, rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != want {
			t.Errorf("%s: expected %s, got %s", route, want, got)
		}
	}
}

func TestPeriodTotals_UnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/00000000-0000-0000-0000-000000000000/monthly", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "0" {
		t.Errorf("expected 200 with 0, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/summary", "")
	want := `{"user_id":"` + env.userID + `","week":50,"month":80,"year":80,"as_of":"2025-07-23"}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestBreakdowns(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/weekly-breakdown", "")
	want := `{"Jul 14 – Jul 20":30,"Jul 21 – Jul 27":50}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	rec = env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/monthly-breakdown", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"JUL":80}` {
		t.Errorf("expected {\"JUL\":80}, got %s", got)
	}
}

func TestInsights_Success(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/insights", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["userId"] != env.userID || body["label"] == "" {
		t.Errorf("unexpected insight %v", body)
	}

	rec = env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/insights/history", "")
	var history []domain.Insight
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 || history[0].Label != body["label"] {
		t.Errorf("expected the insight to be recorded, got %+v", history)
	}
}

func TestInsights_EngineFailure(t *testing.T) {
	env := newTestEnv(t, failingEngine{}, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/insights", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"analysis failed"}` {
		t.Errorf("expected generic error, got %s", got)
	}

	list, err := env.insights.ListByUser(context.Background(), env.userID)
	if err != nil || len(list) != 0 {
		t.Errorf("expected nothing recorded, got %v (%v)", list, err)
	}
}

func TestInsights_ClientCanceled(t *testing.T) {
	env := newTestEnv(t, canceledEngine{}, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/"+env.userID+"/insights", "")
	if rec.Code != 499 {
		t.Fatalf("expected 499, got %d", rec.Code)
	}

	list, err := env.insights.ListByUser(context.Background(), env.userID)
	if err != nil || len(list) != 0 {
		t.Errorf("expected nothing recorded, got %v (%v)", list, err)
	}
}

func TestInsights_UnknownUser(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/v1/analytics/00000000-0000-0000-0000-000000000000/insights", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	if rec := env.do(http.MethodGet, "/v1/batch/last", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the first run, got %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/v1/batch/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report domain.BatchReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	if rec := env.do(http.MethodGet, "/v1/batch/last", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after a run, got %d", rec.Code)
	}
}

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	return signRoleToken(t, secret, subject, "")
}

func signRoleToken(t *testing.T, secret []byte, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
		"role": role,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestJWT(t *testing.T) {
	secret := []byte("test-secret")
	env := newTestEnv(t, nil, secret)
	path := "/v1/analytics/" + env.userID + "/weekly"

	if rec := env.do(http.MethodGet, path, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, path, signToken(t, []byte("other"), env.userID)); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, path, signToken(t, secret, "00000000-0000-0000-0000-000000000000")); rec.Code != http.StatusForbidden {
		t.Errorf("other user: expected 403, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, path, signToken(t, secret, env.userID)); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz stays public: expected 200, got %d", rec.Code)
	}
}

func TestBatch_RequiresOperator(t *testing.T) {
	secret := []byte("test-secret")
	env := newTestEnv(t, nil, secret)

	if rec := env.do(http.MethodPost, "/v1/batch/run", signToken(t, secret, env.userID)); rec.Code != http.StatusForbidden {
		t.Errorf("plain user: expected 403, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/v1/batch/last", signToken(t, secret, env.userID)); rec.Code != http.StatusForbidden {
		t.Errorf("plain user reading last report: expected 403, got %d", rec.Code)
	}

	list, err := env.insights.ListByUser(context.Background(), env.userID)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no batch to have run, got %v (%v)", list, err)
	}

	operator := signRoleToken(t, secret, "ops-1", handler.RoleOperator)
	if rec := env.do(http.MethodPost, "/v1/batch/run", operator); rec.Code != http.StatusOK {
		t.Errorf("operator: expected 200, got %d", rec.Code)
	}
}
