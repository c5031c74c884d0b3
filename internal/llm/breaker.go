package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Guarded wraps a Provider with a circuit breaker shared by both calls.
type Guarded struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewGuarded wraps the provider with a breaker tripping after 5 consecutive
// failures and probing again after 30 seconds.
func NewGuarded(inner Provider, logger *zap.Logger) *Guarded {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Guarded{inner: inner, cb: cb}
}

// ExtractTriples calls the provider through the breaker. Failures surface
// as ErrExtractionFailed so the ingestor aborts the unit of work cleanly.
func (g *Guarded) ExtractTriples(ctx context.Context, text string) ([]Candidate, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.ExtractTriples(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("extract: %w", memerr.ErrCircuitOpen)
		}
		return nil, fmt.Errorf("%w: %v", memerr.ErrExtractionFailed, err)
	}
	candidates, _ := out.([]Candidate)
	return candidates, nil
}

// Classify calls the provider through the breaker. The router treats any
// error, breaker-open included, as "fall back to hybrid".
func (g *Guarded) Classify(ctx context.Context, query string) (Intent, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Classify(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("classify: %w", memerr.ErrCircuitOpen)
		}
		return "", err
	}
	intent, _ := out.(Intent)
	return intent, nil
}
