// Package ingest turns raw assertions and free text into resolved,
// persisted knowledge-graph triples.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/graph"
	"github.com/mimo-os/mimo/internal/llm"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/resolve"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// Raw is an unresolved triple as supplied by a caller or extracted from text.
type Raw struct {
	Subject    string     `json:"subject"`
	Predicate  string     `json:"predicate"`
	Object     string     `json:"object"`
	Confidence float64    `json:"confidence,omitempty"`
	Context    string     `json:"context,omitempty"`
	GraphID    string     `json:"graph_id"`
	Source     string     `json:"source,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Waker is notified after each successful write so inference can be
// scheduled. Implemented by the dream package.
type Waker interface {
	Notify(graphID string)
}

// Ingestor resolves and persists triples. Each triple is written atomically:
// a failure anywhere leaves no partial edge behind.
type Ingestor struct {
	resolver *resolve.Resolver
	store    graph.Store
	provider llm.Provider
	waker    Waker
	emit     telemetry.Emitter
	logger   *zap.Logger
}

// NewIngestor wires the ingestion pipeline. waker may be nil when inference
// is disabled.
func NewIngestor(resolver *resolve.Resolver, store graph.Store, provider llm.Provider,
	waker Waker, emit telemetry.Emitter, logger *zap.Logger) *Ingestor {
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Ingestor{
		resolver: resolver,
		store:    store,
		provider: provider,
		waker:    waker,
		emit:     emit,
		logger:   logger,
	}
}

// Ingest resolves both entities of a raw triple and persists the edge.
// An ambiguous mention returns a memerr.AmbiguousError and writes nothing.
func (ig *Ingestor) Ingest(ctx context.Context, raw Raw) (*graph.Triple, error) {
	pred := NormalizePredicate(raw.Predicate)
	if pred == "" {
		return nil, fmt.Errorf("ingest: empty predicate")
	}

	subjID, err := ig.resolveMention(ctx, raw.Subject, raw.GraphID)
	if err != nil {
		return nil, err
	}
	objID, err := ig.resolveMention(ctx, raw.Object, raw.GraphID)
	if err != nil {
		return nil, err
	}

	conf := raw.Confidence
	if conf <= 0 || conf > 1 {
		conf = 1.0
	}
	method := "asserted"
	if raw.Source == "extraction" {
		method = "extracted"
	}
	t := &graph.Triple{
		ID:         uuid.NewString(),
		SubjectID:  subjID,
		Predicate:  pred,
		ObjectID:   objID,
		Confidence: conf,
		Context:    raw.Context,
		GraphID:    raw.GraphID,
		ExpiresAt:  raw.ExpiresAt,
		Provenance: graph.Provenance{Source: raw.Source, Method: method},
		CreatedAt:  time.Now(),
	}
	if err := ig.store.CreateTriple(ctx, t); err != nil {
		return nil, fmt.Errorf("ingest %s-[%s]->%s: %w", subjID, pred, objID, err)
	}

	ig.emit.Emit(telemetry.EventTripleIngested, nil, map[string]string{
		"predicate": pred, "graph_id": raw.GraphID})
	if ig.waker != nil {
		ig.waker.Notify(raw.GraphID)
	}
	return t, nil
}

// IngestBatch ingests each triple independently and reports per-item
// outcomes. One bad triple does not sink the batch.
func (ig *Ingestor) IngestBatch(ctx context.Context, raws []Raw) ([]*graph.Triple, []error) {
	triples := make([]*graph.Triple, len(raws))
	errs := make([]error, len(raws))
	for i, raw := range raws {
		triples[i], errs[i] = ig.Ingest(ctx, raw)
	}
	return triples, errs
}

// IngestText extracts candidate triples from free text and ingests them.
// Extraction failure aborts the whole call; nothing is written. Triples
// whose entities resolve ambiguously are skipped and returned so the
// caller can surface them instead of silently losing knowledge.
func (ig *Ingestor) IngestText(ctx context.Context, text, graphID string) ([]*graph.Triple, []*memerr.AmbiguousError, error) {
	candidates, err := ig.provider.ExtractTriples(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest text: %w", err)
	}

	var out []*graph.Triple
	var skipped []*memerr.AmbiguousError
	for _, c := range candidates {
		t, err := ig.Ingest(ctx, Raw{
			Subject:   c.Subject,
			Predicate: c.Predicate,
			Object:    c.Object,
			Context:   text,
			GraphID:   graphID,
			Source:    "extraction",
		})
		if err != nil {
			if amb, ok := memerr.IsAmbiguous(err); ok {
				ig.logger.Info("skipping ambiguous extracted triple",
					zap.String("subject", c.Subject), zap.String("object", c.Object))
				skipped = append(skipped, amb)
				continue
			}
			return out, skipped, fmt.Errorf("ingest text: %w", err)
		}
		out = append(out, t)
	}
	return out, skipped, nil
}

func (ig *Ingestor) resolveMention(ctx context.Context, mention, graphID string) (string, error) {
	res, err := ig.resolver.Resolve(ctx, mention, resolve.Options{
		GraphID:      graphID,
		CreateAnchor: true,
	})
	if err != nil {
		return "", fmt.Errorf("ingest: resolve %q: %w", mention, err)
	}
	if res.Status == resolve.StatusAmbiguous {
		candidates := make([]memerr.Candidate, 0, len(res.Candidates))
		for _, h := range res.Candidates {
			candidates = append(candidates, memerr.Candidate{
				CanonicalID: h.CanonicalID,
				Surface:     h.Surface,
				Score:       h.Score,
			})
		}
		return "", &memerr.AmbiguousError{Surface: mention, Candidates: candidates}
	}
	return res.CanonicalID, nil
}

// NormalizePredicate lowercases a predicate and reduces it to alphanumeric
// runs joined by underscores, so "Depends On" and "depends_on" collide.
func NormalizePredicate(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
