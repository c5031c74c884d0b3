package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/graph"
	"github.com/mimo-os/mimo/internal/llm"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/resolve"
	"go.uber.org/zap"
)

type memIndex struct {
	mu      sync.Mutex
	anchors map[string]resolve.Anchor
	vectors map[string][]float32
}

func newMemIndex() *memIndex {
	return &memIndex{anchors: make(map[string]resolve.Anchor), vectors: make(map[string][]float32)}
}

func (m *memIndex) Search(_ context.Context, graphID string, vector []float32, _ int) ([]resolve.AnchorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []resolve.AnchorHit
	for id, a := range m.anchors {
		if a.GraphID != graphID {
			continue
		}
		var dot, na, nb float64
		v := m.vectors[id]
		for i := range vector {
			dot += float64(vector[i]) * float64(v[i])
			na += float64(vector[i]) * float64(vector[i])
			nb += float64(v[i]) * float64(v[i])
		}
		score := 0.0
		if na > 0 && nb > 0 {
			score = dot / (math.Sqrt(na) * math.Sqrt(nb))
		}
		hits = append(hits, resolve.AnchorHit{CanonicalID: a.CanonicalID, Surface: a.Surface, Score: score})
	}
	return hits, nil
}

func (m *memIndex) Upsert(_ context.Context, anchor resolve.Anchor, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchor.ID] = anchor
	m.vectors[anchor.ID] = vector
	return nil
}

type recordWaker struct {
	mu     sync.Mutex
	graphs []string
}

func (w *recordWaker) Notify(graphID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.graphs = append(w.graphs, graphID)
}

func (w *recordWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.graphs)
}

func newTestIngestor(provider llm.Provider, waker Waker) (*Ingestor, *resolve.Resolver, graph.Store) {
	resolver := resolve.NewResolver(&embedding.MockProvider{Dim: 8}, newMemIndex(), nil, zap.NewNop())
	store := graph.NewMemoryStore()
	return NewIngestor(resolver, store, provider, waker, nil, zap.NewNop()), resolver, store
}

func TestIngestResolvesAndPersists(t *testing.T) {
	waker := &recordWaker{}
	ig, resolver, store := newTestIngestor(&llm.MockProvider{}, waker)
	defer resolver.Close()

	triple, err := ig.Ingest(context.Background(), Raw{
		Subject:   "the auth service",
		Predicate: "Depends On",
		Object:    "PostgreSQL",
		GraphID:   "g1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if triple.SubjectID != "entity:the_auth_service" {
		t.Errorf("got subject %q", triple.SubjectID)
	}
	if triple.Predicate != "depends_on" {
		t.Errorf("got predicate %q, want depends_on", triple.Predicate)
	}
	if triple.ObjectID != "entity:postgresql" {
		t.Errorf("got object %q", triple.ObjectID)
	}
	if triple.Confidence != 1.0 {
		t.Errorf("got confidence %v, want 1.0 default", triple.Confidence)
	}
	if triple.IsDerived {
		t.Error("asserted triple marked derived")
	}

	edges, err := store.Relationships(context.Background(), triple.SubjectID, graph.DirOut, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	if waker.count() != 1 {
		t.Errorf("waker notified %d times, want 1", waker.count())
	}
}

func TestIngestAmbiguousWritesNothing(t *testing.T) {
	resolver := resolve.NewResolver(&embedding.MockProvider{Dim: 8}, newMemIndex(), nil, zap.NewNop())
	defer resolver.Close()
	store := graph.NewMemoryStore()
	ig := NewIngestor(resolver, store, &llm.MockProvider{}, nil, nil, zap.NewNop())

	ctx := context.Background()
	// Two near-identical anchors for the same surface but different
	// canonical ids make the mention ambiguous.
	if err := resolver.EnsureAnchor(ctx, "person:john_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}
	if err := resolver.EnsureAnchor(ctx, "person:jon_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}

	_, err := ig.Ingest(ctx, Raw{Subject: "john smith", Predicate: "reports_to", Object: "Jane", GraphID: "g1"})
	amb, ok := memerr.IsAmbiguous(err)
	if !ok {
		t.Fatalf("got %v, want ambiguous error", err)
	}
	if len(amb.Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(amb.Candidates))
	}

	snap, _ := store.Snapshot(ctx, "g1")
	if len(snap) != 0 {
		t.Errorf("got %d triples after ambiguous ingest, want 0", len(snap))
	}
}

func TestIngestTextExtractsAndWrites(t *testing.T) {
	provider := &llm.MockProvider{Candidates: []llm.Candidate{
		{Subject: "auth service", Predicate: "depends on", Object: "PostgreSQL"},
		{Subject: "auth service", Predicate: "owned by", Object: "platform team"},
	}}
	ig, resolver, store := newTestIngestor(provider, nil)
	defer resolver.Close()

	triples, skipped, err := ig.IngestText(context.Background(),
		"The auth service depends on PostgreSQL and is owned by the platform team.", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triples) != 2 {
		t.Fatalf("got %d triples, want 2", len(triples))
	}
	if len(skipped) != 0 {
		t.Errorf("got %d skipped mentions, want 0", len(skipped))
	}
	if triples[0].Provenance.Method != "extracted" {
		t.Errorf("got method %q, want extracted", triples[0].Provenance.Method)
	}

	snap, _ := store.Snapshot(context.Background(), "g1")
	if len(snap) != 2 {
		t.Errorf("got %d stored triples, want 2", len(snap))
	}
}

func TestIngestTextReportsSkippedAmbiguous(t *testing.T) {
	provider := &llm.MockProvider{Candidates: []llm.Candidate{
		{Subject: "john smith", Predicate: "reports to", Object: "jane doe"},
		{Subject: "billing service", Predicate: "depends on", Object: "PostgreSQL"},
	}}
	resolver := resolve.NewResolver(&embedding.MockProvider{Dim: 8}, newMemIndex(), nil, zap.NewNop())
	defer resolver.Close()
	store := graph.NewMemoryStore()
	ig := NewIngestor(resolver, store, provider, nil, nil, zap.NewNop())

	ctx := context.Background()
	if err := resolver.EnsureAnchor(ctx, "person:john_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}
	if err := resolver.EnsureAnchor(ctx, "person:jon_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}

	triples, skipped, err := ig.IngestText(ctx,
		"John Smith reports to Jane Doe. The billing service depends on PostgreSQL.", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triples) != 1 {
		t.Fatalf("got %d triples, want the one unambiguous write", len(triples))
	}
	if len(skipped) != 1 {
		t.Fatalf("got %d skipped mentions, want 1", len(skipped))
	}
	if skipped[0].Surface != "john smith" {
		t.Errorf("got skipped surface %q, want john smith", skipped[0].Surface)
	}
	if len(skipped[0].Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(skipped[0].Candidates))
	}

	snap, _ := store.Snapshot(ctx, "g1")
	if len(snap) != 1 {
		t.Errorf("got %d stored triples, want 1", len(snap))
	}
}

func TestIngestTextAbortsOnExtractionFailure(t *testing.T) {
	provider := &llm.MockProvider{Err: memerr.ErrExtractionFailed}
	ig, resolver, store := newTestIngestor(provider, nil)
	defer resolver.Close()

	_, _, err := ig.IngestText(context.Background(), "some text", "g1")
	if !errors.Is(err, memerr.ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
	snap, _ := store.Snapshot(context.Background(), "g1")
	if len(snap) != 0 {
		t.Errorf("got %d triples after failed extraction, want 0", len(snap))
	}
}

func TestNormalizePredicate(t *testing.T) {
	cases := map[string]string{
		"Depends On":  "depends_on",
		"depends_on":  "depends_on",
		"REPORTS-TO":  "reports_to",
		"  contains ": "contains",
		"v2.0 uses":   "v2_0_uses",
	}
	for in, want := range cases {
		if got := NormalizePredicate(in); got != want {
			t.Errorf("NormalizePredicate(%q) = %q, want %q", in, got, want)
		}
	}
}
