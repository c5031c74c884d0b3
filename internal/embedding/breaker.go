package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Guarded wraps a Provider with a circuit breaker. When the upstream
// provider keeps failing the breaker opens and callers get ErrCircuitOpen
// immediately instead of piling requests onto a degraded dependency.
type Guarded struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewGuarded wraps the provider with a breaker tripping after 5 consecutive
// failures and probing again after 30 seconds.
func NewGuarded(inner Provider, logger *zap.Logger) *Guarded {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Guarded{inner: inner, cb: cb}
}

// Embed calls the wrapped provider through the breaker.
func (g *Guarded) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("embedding: %w", memerr.ErrCircuitOpen)
		}
		if errors.Is(err, memerr.ErrEmbeddingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", memerr.ErrEmbeddingFailed, err)
	}
	vecs, _ := out.([][]float32)
	return vecs, nil
}

// Dimension delegates to the wrapped provider.
func (g *Guarded) Dimension() int {
	return g.inner.Dimension()
}
