package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/fintrack-insights/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

func TestCircuitBreaker_TripsAfterFailures(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerSettings{
		MinRequests:  3,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, boom })
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	called := false
	_, err := cb.Execute(func() (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if called {
		t.Fatal("expected open breaker to reject the call")
	}
}

func TestCircuitBreaker_StaysClosedBelowMinimum(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerSettings{})

	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("fail") })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	// Third acquire should block; test with timeout context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bh.Acquire(ctx)
	if err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestBulkhead_MinimumOne(t *testing.T) {
	bh := resilience.NewBulkhead(0)
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected a single slot, got %v", err)
	}
	bh.Release()
}

func TestCircuitBreaker_IsSuccessfulIgnoresErrors(t *testing.T) {
	ignored := errors.New("bad input")
	cb := resilience.NewCircuitBreaker("test", resilience.BreakerSettings{
		MinRequests:  2,
		FailureRatio: 0.5,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ignored) },
	})

	for i := 0; i < 5; i++ {
		if _, err := cb.Execute(func() (any, error) { return nil, ignored }); !errors.Is(err, ignored) {
			t.Fatalf("expected the run's error to be returned, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}
}
