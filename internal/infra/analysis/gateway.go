// Package analysis implements port.InsightEngine: a gateway that runs the
// external analysis program over stdin/stdout, and an in-process builtin
// engine with the same contract.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/domain"
	"github.com/boddenberg/fintrack-insights/internal/infra/observability"
	"github.com/boddenberg/fintrack-insights/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("analysis")

// ServiceName identifies the analysis engine in errors and logs.
const ServiceName = "analysis-engine"

// maxDiagnosticsLogged caps how much engine stderr ends up in one log line.
const maxDiagnosticsLogged = 4096

// Config describes how to launch the analysis program.
type Config struct {
	Executable     string
	Script         string        // sole argument; omitted when empty
	Env            []string      // appended to the parent environment
	Timeout        time.Duration // per invocation, process killed on expiry
	MaxConcurrency int
}

// Gateway runs one analysis process per ComputeInsight call.
type Gateway struct {
	cfg      Config
	cb       *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewGateway creates a Gateway. A nil breaker disables circuit breaking.
func NewGateway(cfg Config, cb *gobreaker.CircuitBreaker, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Gateway{
		cfg:      cfg,
		cb:       cb,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
		logger:   logger,
	}
}

// ComputeInsight sends requests to a fresh analysis process and parses its
// single JSON object answer. Every failure is fatal for the call; there are
// no retries.
func (g *Gateway) ComputeInsight(ctx context.Context, requests []domain.InsightRequest) (*domain.InsightResult, error) {
	ctx, span := tracer.Start(ctx, "Gateway.ComputeInsight")
	defer span.End()
	span.SetAttributes(attribute.Int("analysis.request_count", len(requests)))

	start := time.Now()
	defer func() { g.metrics.RecordRequestDuration("analysis.compute", time.Since(start)) }()

	if requests == nil {
		requests = []domain.InsightRequest{}
	}

	if err := g.bulkhead.Acquire(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, g.fail(span, observability.AnalysisCanceled, err)
		}
		return nil, g.fail(span, observability.AnalysisTimeout, contextError(err))
	}
	defer g.bulkhead.Release()

	var (
		result *domain.InsightResult
		err    error
	)
	if g.cb == nil {
		result, err = g.run(ctx, requests)
	} else {
		var out any
		out, err = g.cb.Execute(func() (any, error) { return g.run(ctx, requests) })
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, g.fail(span, observability.AnalysisRejected, &domain.ErrCircuitOpen{Service: ServiceName})
		}
		if err == nil {
			result = out.(*domain.InsightResult)
		}
	}
	if err != nil {
		var outcome *runError
		if errors.As(err, &outcome) {
			return nil, g.fail(span, outcome.outcome, outcome.err)
		}
		return nil, g.fail(span, observability.AnalysisExit, err)
	}

	g.metrics.IncrAnalysis(observability.AnalysisSuccess)
	return result, nil
}

func (g *Gateway) fail(span trace.Span, outcome string, err error) error {
	g.metrics.IncrAnalysis(outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// runError carries the metrics outcome of a failed run through the breaker.
type runError struct {
	outcome string
	err     error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func failed(outcome string, err error) error {
	return &runError{outcome: outcome, err: err}
}

// NewBreaker creates the gateway's circuit breaker. Only runs where the
// engine could not be started or did not finish in time count as failures;
// a crash or bad answer on one user's data and a caller that gave up leave
// the breaker alone.
func NewBreaker(s resilience.BreakerSettings) *gobreaker.CircuitBreaker {
	s.IsSuccessful = breakerSuccess
	return resilience.NewCircuitBreaker(ServiceName, s)
}

func breakerSuccess(err error) bool {
	var re *runError
	if errors.As(err, &re) {
		return re.outcome != observability.AnalysisLaunch && re.outcome != observability.AnalysisTimeout
	}
	return err == nil
}

// run executes one analysis process. The request is written in full and
// stdin closed before stdout is read; stderr is drained concurrently so a
// chatty engine cannot block on a full pipe.
func (g *Gateway) run(ctx context.Context, requests []domain.InsightRequest) (*domain.InsightResult, error) {
	payload, err := json.Marshal(requests)
	if err != nil {
		return nil, failed(observability.AnalysisWrite, &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("encoding request: %w", err)})
	}

	runCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var args []string
	if g.cfg.Script != "" {
		args = append(args, g.cfg.Script)
	}
	cmd := exec.CommandContext(runCtx, g.cfg.Executable, args...)
	if len(g.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), g.cfg.Env...)
	}
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, failed(observability.AnalysisLaunch, launchError(err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failed(observability.AnalysisLaunch, launchError(err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, failed(observability.AnalysisLaunch, launchError(err))
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, failed(observability.AnalysisCanceled, ctx.Err())
		}
		return nil, failed(observability.AnalysisLaunch, launchError(err))
	}

	var (
		diagnostics bytes.Buffer
		pump        errgroup.Group
	)
	pump.Go(func() error {
		_, err := io.Copy(&diagnostics, stderr)
		return err
	})

	_, writeErr := stdin.Write(payload)
	if closeErr := stdin.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
		_ = pump.Wait()
		_ = cmd.Wait()
		g.logDiagnostics(diagnostics.Bytes(), len(requests))
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, failed(observability.AnalysisCanceled, ctx.Err())
		}
		if deadlineExceeded(runCtx) {
			return nil, failed(observability.AnalysisTimeout, &domain.ErrTimeout{Operation: ServiceName})
		}
		return nil, failed(observability.AnalysisWrite, &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("writing request: %w", writeErr)})
	}

	out, readErr := io.ReadAll(stdout)
	_ = pump.Wait()
	waitErr := cmd.Wait()
	g.logDiagnostics(diagnostics.Bytes(), len(requests))

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, failed(observability.AnalysisCanceled, ctx.Err())
	case deadlineExceeded(runCtx):
		return nil, failed(observability.AnalysisTimeout, &domain.ErrTimeout{Operation: ServiceName})
	case runCtx.Err() != nil:
		return nil, failed(observability.AnalysisExit, &domain.ErrExternalService{Service: ServiceName, Err: runCtx.Err()})
	case readErr != nil:
		return nil, failed(observability.AnalysisExit, &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("reading response: %w", readErr)})
	case waitErr != nil:
		return nil, failed(observability.AnalysisExit, &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("engine exited: %w", waitErr)})
	}

	result, err := ParseResult(out)
	if err != nil {
		return nil, failed(observability.AnalysisMalformed, err)
	}
	return result, nil
}

func (g *Gateway) logDiagnostics(diag []byte, userCount int) {
	diag = bytes.TrimSpace(diag)
	if len(diag) == 0 {
		return
	}
	g.metrics.IncrEngineDiagnostics()
	if len(diag) > maxDiagnosticsLogged {
		diag = diag[:maxDiagnosticsLogged]
	}
	g.logger.Warn("analysis engine wrote diagnostics",
		zap.Int("user_count", userCount),
		zap.ByteString("diagnostics", diag),
	)
}

func launchError(err error) error {
	return &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("launching engine: %w", err)}
}

func deadlineExceeded(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// contextError maps a context failure while waiting for a slot.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: ServiceName}
	}
	return &domain.ErrExternalService{Service: ServiceName, Err: err}
}

// ParseResult decodes engine output: exactly one JSON object, optionally
// surrounded by whitespace. String fields tolerate non-string scalars by
// keeping their JSON text; absent fields stay empty.
func ParseResult(out []byte) (*domain.InsightResult, error) {
	raw := bytes.TrimSpace(out)
	if len(raw) == 0 {
		return nil, malformed(errors.New("empty output"))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, malformed(err)
	}
	if fields == nil {
		return nil, malformed(errors.New("response is not an object"))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed(errors.New("trailing data after response object"))
	}

	return &domain.InsightResult{
		Raw:         string(raw),
		Label:       stringField(fields["label"]),
		Trend:       stringField(fields["trend"]),
		TopCategory: stringField(fields["topCategory"]),
		Suggestions: fields["suggestions"],
		Anomalies:   fields["anomalies"],
	}, nil
}

func malformed(err error) error {
	return &domain.ErrMalformedResponse{Service: ServiceName, Err: err}
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
