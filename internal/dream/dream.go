// Package dream schedules background inference. Writes to a graph wake the
// dreamer; it waits for the write burst to settle, then runs one inference
// pass that rebuilds the graph's derived triples.
package dream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mimo-os/mimo/internal/config"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// Stats reports cumulative dreamer activity.
type Stats struct {
	PassesCompleted int       `json:"passes_completed"`
	TriplesInferred int       `json:"triples_inferred"`
	LastRun         time.Time `json:"last_run"`
}

// Dreamer debounces inference per graph: a burst of Notify calls for the
// same graph collapses into a single pass once writes go quiet.
type Dreamer struct {
	engine *Engine
	cfg    config.InferenceConfig
	emit   telemetry.Emitter
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	stats  Stats
	closed bool

	passes sync.WaitGroup
}

// NewDreamer creates a dreamer around the inference engine.
func NewDreamer(engine *Engine, cfg config.InferenceConfig, emit telemetry.Emitter, logger *zap.Logger) *Dreamer {
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Dreamer{
		engine: engine,
		cfg:    cfg,
		emit:   emit,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Notify records a write to the graph and (re)starts its debounce window.
// Never blocks.
func (d *Dreamer) Notify(graphID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if t, ok := d.timers[graphID]; ok {
		t.Reset(d.cfg.Debounce())
		return
	}
	d.timers[graphID] = time.AfterFunc(d.cfg.Debounce(), func() {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		delete(d.timers, graphID)
		d.passes.Add(1)
		d.mu.Unlock()

		defer d.passes.Done()
		if _, err := d.runPass(graphID); err != nil {
			d.logger.Warn("inference pass failed",
				zap.String("graph_id", graphID), zap.Error(err))
		}
	})
}

// ForceInference runs a pass immediately, bypassing the debounce window.
// A pending timer for the graph is cancelled; the forced pass subsumes it.
func (d *Dreamer) ForceInference(ctx context.Context, graphID string) (*PassResult, error) {
	d.mu.Lock()
	if t, ok := d.timers[graphID]; ok {
		t.Stop()
		delete(d.timers, graphID)
	}
	d.mu.Unlock()
	return d.runPassCtx(ctx, graphID)
}

// Stats returns a snapshot of cumulative activity.
func (d *Dreamer) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close cancels pending timers and waits for in-flight passes.
func (d *Dreamer) Close() {
	d.mu.Lock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	d.passes.Wait()
}

func (d *Dreamer) runPass(graphID string) (*PassResult, error) {
	return d.runPassCtx(context.Background(), graphID)
}

func (d *Dreamer) runPassCtx(ctx context.Context, graphID string) (*PassResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PassTimeout())
	defer cancel()

	res, err := d.engine.RunPass(ctx, graphID)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("graph %s: %w", graphID, memerr.ErrInferenceTimeout)
		}
		return nil, err
	}

	d.mu.Lock()
	d.stats.PassesCompleted++
	d.stats.TriplesInferred += res.Inferred
	d.stats.LastRun = time.Now()
	d.mu.Unlock()

	d.emit.Emit(telemetry.EventPassCompleted, map[string]float64{
		"inferred":   float64(res.Inferred),
		"discarded":  float64(res.Discarded),
		"elapsed_ms": float64(res.Elapsed.Milliseconds()),
	}, map[string]string{"graph_id": graphID})
	d.logger.Debug("inference pass completed",
		zap.String("graph_id", graphID),
		zap.Int("inferred", res.Inferred),
		zap.Int("discarded", res.Discarded),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}
