// Package resilience provides fault-tolerance patterns for the analysis
// engine: a circuit breaker and a bulkhead.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes NewCircuitBreaker. Zero values fall back to defaults.
type BreakerSettings struct {
	MinRequests  uint32        // requests seen before the breaker may trip
	FailureRatio float64       // failure ratio that trips the breaker
	OpenTimeout  time.Duration // open -> half-open
	Interval     time.Duration // closed: reset counters

	// IsSuccessful decides which errors leave the failure count untouched.
	// nil counts every non-nil error as a failure.
	IsSuccessful func(err error) bool
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Minute
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  1, // half-open: a single trial run
		Interval:     s.Interval,
		Timeout:      s.OpenTimeout,
		IsSuccessful: s.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
	})
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency (minimum 1).
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}
