// Package resilience wraps calls to the care API in a circuit breaker with
// per-request timeouts and retries for idempotent requests, and keeps the
// upstream health shown by the ops endpoints.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Circuit breaker defaults. A caregiver waiting on a clock-in should learn
// quickly that the backend is down, and should not wait long once it is back.
const (
	DefaultBreakerTimeout  = 30 * time.Second
	DefaultBreakerInterval = 2 * time.Minute

	// consecutiveFailuresToTrip trips the breaker regardless of the ratio.
	consecutiveFailuresToTrip = 5
	minRequestsForRatio       = 5
	failureRatioToTrip        = 0.5
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and the health registry.
	Name string

	// MaxRequests is how many probes are let through while half-open.
	MaxRequests uint32

	// Interval clears the counts periodically while closed, so failures
	// from long ago do not add up. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ReadyToTrip decides when to open (default: DefaultReadyToTrip).
	ReadyToTrip func(counts gobreaker.Counts) bool

	// IsSuccessful classifies an error (default: DefaultIsSuccessful).
	IsSuccessful func(err error) bool

	// OnStateChange is called when the breaker changes state.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the breaker settings for the care API.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     DefaultBreakerInterval,
		Timeout:      DefaultBreakerTimeout,
		ReadyToTrip:  DefaultReadyToTrip,
		IsSuccessful: DefaultIsSuccessful,
	}
}

// DefaultReadyToTrip opens the breaker after five consecutive failures, or
// once at least five requests were made and half of them failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= consecutiveFailuresToTrip {
		return true
	}
	if counts.Requests < minRequestsForRatio {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatioToTrip
}

// DefaultIsSuccessful does not hold a cancelled request against the
// upstream: the caller gave up, the backend did not fail.
func DefaultIsSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewCircuitBreaker creates a breaker from cfg, filling in defaults.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = DefaultIsSuccessful
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		IsSuccessful:  cfg.IsSuccessful,
		OnStateChange: cfg.OnStateChange,
	})
}
