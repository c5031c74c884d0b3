// Package consolidate promotes working-memory items into durable engrams.
package consolidate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/engram"
	"github.com/mimo-os/mimo/internal/telemetry"
	"github.com/mimo-os/mimo/internal/workingmem"
	"go.uber.org/zap"
)

// Promotion score weights. Importance dominates, recurrence and novelty
// share the rest.
const (
	weightImportance = 0.4
	weightRecurrence = 0.3
	weightNovelty    = 0.3

	recurrenceSaturation = 20
)

// Hit is one existing engram found near a candidate item.
type Hit struct {
	EngramID string
	Score    float64
}

// VectorIndex holds engram embeddings. Novelty reads it; promotion writes
// the new engram's vector into it.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
}

// EngramSink persists promoted engrams.
type EngramSink interface {
	Create(ctx context.Context, e *engram.Engram) error
}

// Options tunes the consolidation worker.
type Options struct {
	Interval       time.Duration
	MinAge         time.Duration
	ScoreThreshold float64
}

// Consolidator periodically scans working memory and promotes items whose
// combined importance, recurrence, and novelty clear the threshold.
// Promotion removes the item, so re-scanning is naturally a no-op.
type Consolidator struct {
	wm       *workingmem.Store
	sink     EngramSink
	index    VectorIndex
	embedder embedding.Provider
	opts     Options
	emit     telemetry.Emitter
	logger   *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewConsolidator creates the worker. Call Start to begin ticking.
func NewConsolidator(wm *workingmem.Store, sink EngramSink, index VectorIndex,
	embedder embedding.Provider, opts Options, emit telemetry.Emitter, logger *zap.Logger) *Consolidator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = 0.3
	}
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Consolidator{
		wm:       wm,
		sink:     sink,
		index:    index,
		embedder: embedder,
		opts:     opts,
		emit:     emit,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic scan loop.
func (c *Consolidator) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Close stops the loop and waits for an in-flight scan to finish.
func (c *Consolidator) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Consolidator) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.Interval)
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Warn("consolidation scan failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunOnce scans working memory once and returns how many items were
// promoted. Per-item failures skip the item; it stays in working memory
// and is retried on the next scan.
func (c *Consolidator) RunOnce(ctx context.Context) (int, error) {
	var candidates []workingmem.Item
	now := time.Now()
	c.wm.Scan(func(item workingmem.Item) {
		if item.ConsolidationCandidate || now.Sub(item.CreatedAt) >= c.opts.MinAge {
			candidates = append(candidates, item)
		}
	})

	promoted := 0
	for _, item := range candidates {
		if err := ctx.Err(); err != nil {
			return promoted, fmt.Errorf("consolidation scan: %w", err)
		}
		ok, err := c.promote(ctx, item)
		if err != nil {
			c.logger.Warn("skipping item this scan",
				zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}

// promote scores one item and, if it clears the threshold, writes the
// engram and removes the source item.
func (c *Consolidator) promote(ctx context.Context, item workingmem.Item) (bool, error) {
	vec, err := embedding.EmbedOne(ctx, c.embedder, item.Content)
	if err != nil {
		return false, fmt.Errorf("embed: %w", err)
	}

	novelty := 1.0
	if c.index != nil {
		hits, err := c.index.Search(ctx, vec, 1)
		if err != nil {
			return false, fmt.Errorf("novelty search: %w", err)
		}
		if len(hits) > 0 {
			novelty = 1 - clamp01(hits[0].Score)
		}
	}

	score := weightImportance*item.Importance +
		weightRecurrence*recurrenceFactor(item.AccessCount) +
		weightNovelty*novelty
	if score < c.opts.ScoreThreshold {
		return false, nil
	}

	e := &engram.Engram{
		ID:             uuid.NewString(),
		Content:        item.Content,
		Category:       "consolidated",
		Importance:     item.Importance,
		Embedding:      vec,
		LastAccessedAt: time.Now(),
		SourceItemID:   item.ID,
		InsertedAt:     time.Now(),
	}
	if err := c.sink.Create(ctx, e); err != nil {
		return false, fmt.Errorf("create engram: %w", err)
	}
	if c.index != nil {
		if err := c.index.Upsert(ctx, e.ID, vec, map[string]string{
			"category":       e.Category,
			"source_item_id": item.ID,
		}); err != nil {
			// The engram exists without a vector; retrieval still finds it
			// through recency. Log and move on.
			c.logger.Warn("engram vector upsert failed",
				zap.String("engram_id", e.ID), zap.Error(err))
		}
	}
	c.wm.Remove(item.ID)

	c.emit.Emit(telemetry.EventConsolidated,
		map[string]float64{"score": score, "novelty": novelty},
		map[string]string{"engram_id": e.ID, "item_id": item.ID})
	return true, nil
}

// recurrenceFactor maps access count into [0, 1], saturating at 20.
func recurrenceFactor(n int) float64 {
	if n <= 0 {
		return 0
	}
	f := float64(n) / recurrenceSaturation
	return clamp01(f)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
