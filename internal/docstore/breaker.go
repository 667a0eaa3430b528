package docstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker in front of a Writer.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
	// MaxHalfOpen is the number of trial requests allowed while half-open.
	MaxHalfOpen uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "docstore",
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker wraps a Writer with a circuit breaker. While the circuit is open,
// SetMerge fails immediately with ErrUnavailable so callers fall back to the
// offline queue without waiting on a store that is known to be down.
type Breaker struct {
	next Writer
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps next.
func NewBreaker(next Writer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Missing documents and bad payloads say nothing about store health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				k := se.Kind()
				return k == "not-found" || k == "client"
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("document store circuit changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// SetMerge implements Writer.
func (b *Breaker) SetMerge(ctx context.Context, collection, id string, doc map[string]any) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.SetMerge(ctx, collection, id, doc)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

// Get implements Reader when the wrapped Writer does. Reads bypass the
// breaker.
func (b *Breaker) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	r, ok := b.next.(Reader)
	if !ok {
		return nil, errors.New("wrapped store does not support reads")
	}
	return r.Get(ctx, collection, id)
}

// State returns the breaker's current state name.
func (b *Breaker) State() string { return b.cb.State().String() }
