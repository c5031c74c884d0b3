// Package resolve canonicalizes free-text entity mentions to stable
// canonical IDs backed by a vector-searchable anchor index.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// Matching thresholds. A single candidate above MatchThreshold resolves;
// two candidates above it within AmbiguityGap of each other are ambiguous.
const (
	MatchThreshold = 0.85
	AmbiguityGap   = 0.1
)

// Anchor links a surface form to a canonical entity id within a graph.
type Anchor struct {
	ID          string    `json:"id"`
	CanonicalID string    `json:"canonical_id"`
	Surface     string    `json:"surface"`
	GraphID     string    `json:"graph_id"`
	EntityType  string    `json:"entity_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnchorHit is one anchor returned by a similarity search.
type AnchorHit struct {
	CanonicalID string
	Surface     string
	Score       float64
}

// AnchorIndex is the vector index holding anchors. Implemented by
// QdrantAnchors in production and by in-memory fakes in tests.
type AnchorIndex interface {
	Search(ctx context.Context, graphID string, vector []float32, limit int) ([]AnchorHit, error)
	Upsert(ctx context.Context, anchor Anchor, vector []float32) error
}

// Status classifies a resolution outcome.
type Status string

const (
	StatusResolved  Status = "resolved"
	StatusCreated   Status = "created"
	StatusAmbiguous Status = "ambiguous"
)

// Resolution is the structured result of resolving a mention.
type Resolution struct {
	Status      Status      `json:"status"`
	CanonicalID string      `json:"canonical_id,omitempty"`
	Candidates  []AnchorHit `json:"candidates,omitempty"`
}

// Options tunes a single Resolve call.
type Options struct {
	ExpectedType string
	GraphID      string
	CreateAnchor bool
}

type anchorJob struct {
	canonicalID string
	surface     string
	graphID     string
	entityType  string
}

// Resolver resolves mentions against the anchor index. Anchor creation for
// freshly minted ids is asynchronous: the triple write that needed the
// resolution does not wait for the index write, and the anchor converges
// within the worker's drain window (the dual-write guarantee).
type Resolver struct {
	embedder embedding.Provider
	index    AnchorIndex
	emit     telemetry.Emitter
	logger   *zap.Logger

	jobs chan anchorJob
	wg   sync.WaitGroup
	once sync.Once
}

// NewResolver creates a Resolver and starts its anchor worker.
func NewResolver(embedder embedding.Provider, index AnchorIndex,
	emit telemetry.Emitter, logger *zap.Logger) *Resolver {
	if emit == nil {
		emit = telemetry.Nop{}
	}
	r := &Resolver{
		embedder: embedder,
		index:    index,
		emit:     emit,
		logger:   logger,
		jobs:     make(chan anchorJob, 128),
	}
	r.wg.Add(1)
	go r.anchorWorker()
	return r
}

// Resolve maps a mention to a canonical entity id. Once an anchor exists
// above the match threshold, resolving the same normalized text against the
// same graph is idempotent.
func (r *Resolver) Resolve(ctx context.Context, text string, opts Options) (*Resolution, error) {
	norm := Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("resolve: empty mention")
	}

	vec, err := embedding.EmbedOne(ctx, r.embedder, norm)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", norm, err)
	}

	hits, err := r.index.Search(ctx, opts.GraphID, vec, 5)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: anchor search: %w", norm, err)
	}

	strong := dedupeByCanonical(hits, MatchThreshold)
	if len(strong) >= 2 && strong[0].Score-strong[1].Score < AmbiguityGap {
		return &Resolution{Status: StatusAmbiguous, Candidates: strong}, nil
	}
	if len(strong) >= 1 {
		return &Resolution{Status: StatusResolved, CanonicalID: strong[0].CanonicalID}, nil
	}

	// No match: mint a canonical id and create its anchor asynchronously.
	entityType := opts.ExpectedType
	if entityType == "" {
		entityType = "entity"
	}
	canonicalID := MintID(entityType, norm)
	if opts.CreateAnchor {
		r.enqueueAnchor(anchorJob{
			canonicalID: canonicalID,
			surface:     norm,
			graphID:     opts.GraphID,
			entityType:  entityType,
		})
	}
	return &Resolution{Status: StatusCreated, CanonicalID: canonicalID}, nil
}

// EnsureAnchor synchronously creates the anchor for a canonical id.
// Idempotent: the anchor's point id is derived from (canonical id, surface,
// graph), so repeated calls overwrite the same point.
func (r *Resolver) EnsureAnchor(ctx context.Context, canonicalID, surface, graphID, entityType string) error {
	norm := Normalize(surface)
	vec, err := embedding.EmbedOne(ctx, r.embedder, norm)
	if err != nil {
		return fmt.Errorf("ensure anchor %s: %w", canonicalID, err)
	}
	anchor := Anchor{
		ID:          anchorID(canonicalID, norm, graphID),
		CanonicalID: canonicalID,
		Surface:     norm,
		GraphID:     graphID,
		EntityType:  entityType,
		CreatedAt:   time.Now(),
	}
	if err := r.index.Upsert(ctx, anchor, vec); err != nil {
		return fmt.Errorf("ensure anchor %s: %w", canonicalID, err)
	}
	r.emit.Emit(telemetry.EventAnchorCreated, nil, map[string]string{
		"canonical_id": canonicalID, "graph_id": graphID})
	return nil
}

// Close drains pending anchor jobs and stops the worker.
func (r *Resolver) Close() {
	r.once.Do(func() { close(r.jobs) })
	r.wg.Wait()
}

func (r *Resolver) enqueueAnchor(job anchorJob) {
	select {
	case r.jobs <- job:
	default:
		// Bounded queue: dropping is safe, EnsureAnchor can repair later.
		r.logger.Warn("anchor queue full, dropping job",
			zap.String("canonical_id", job.canonicalID))
	}
}

func (r *Resolver) anchorWorker() {
	defer r.wg.Done()
	for job := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.EnsureAnchor(ctx, job.canonicalID, job.surface, job.graphID, job.entityType); err != nil {
			r.logger.Warn("async anchor creation failed",
				zap.String("canonical_id", job.canonicalID), zap.Error(err))
		}
		cancel()
	}
}

// dedupeByCanonical keeps the best hit per canonical id, filtered to hits
// above the threshold, ordered best first.
func dedupeByCanonical(hits []AnchorHit, threshold float64) []AnchorHit {
	best := make(map[string]AnchorHit)
	for _, h := range hits {
		if h.Score <= threshold {
			continue
		}
		if cur, ok := best[h.CanonicalID]; !ok || h.Score > cur.Score {
			best[h.CanonicalID] = h
		}
	}
	out := make([]AnchorHit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Normalize lowercases and collapses whitespace in a mention.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

// anchorID derives a deterministic point id for an anchor.
func anchorID(canonicalID, surface, graphID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(canonicalID+"|"+surface+"|"+graphID)).String()
}
