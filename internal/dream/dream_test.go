package dream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/config"
	"github.com/mimo-os/mimo/internal/graph"
	"go.uber.org/zap"
)

func testInferenceConfig() config.InferenceConfig {
	cfg := config.Default()
	inf := cfg.Memory.Inference
	inf.DebounceMS = 20
	return inf
}

func assert(t *testing.T, store graph.Store, graphID, s, p, o string, conf float64) {
	t.Helper()
	err := store.CreateTriple(context.Background(), &graph.Triple{
		ID:         uuid.NewString(),
		SubjectID:  s,
		Predicate:  p,
		ObjectID:   o,
		Confidence: conf,
		GraphID:    graphID,
		Provenance: graph.Provenance{Source: "test", Method: "asserted"},
	})
	if err != nil {
		t.Fatalf("assert triple: %v", err)
	}
}

func findDerived(triples []*graph.Triple, s, p, o string) *graph.Triple {
	for _, t := range triples {
		if t.IsDerived && t.SubjectID == s && t.Predicate == p && t.ObjectID == o {
			return t
		}
	}
	return nil
}

func TestRunPassDerivesTransitiveAndInverse(t *testing.T) {
	store := graph.NewMemoryStore()
	assert(t, store, "g1", "team:core", "contains", "service:auth", 1.0)
	assert(t, store, "g1", "service:auth", "contains", "module:tokens", 0.8)
	assert(t, store, "g1", "person:bob", "reports_to", "person:alice", 1.0)

	engine := NewEngine(store, testInferenceConfig(), zap.NewNop())
	res, err := engine.RunPass(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inferred == 0 {
		t.Fatal("pass inferred nothing")
	}

	snap, _ := store.Snapshot(context.Background(), "g1")

	// contains is transitive: team:core contains module:tokens, at reduced
	// confidence (1.0 * 0.8 * hop decay 0.9).
	trans := findDerived(snap, "team:core", "contains", "module:tokens")
	if trans == nil {
		t.Fatal("missing derived transitive triple")
	}
	if trans.Confidence > 0.8 {
		t.Errorf("derived confidence %v not decayed below chain minimum", trans.Confidence)
	}
	if trans.Provenance.Method != "inferred" {
		t.Errorf("got method %q, want inferred", trans.Provenance.Method)
	}

	// reports_to inverts to manages.
	if findDerived(snap, "person:alice", "manages", "person:bob") == nil {
		t.Error("missing derived inverse triple")
	}
	// contains inverts to belongs_to.
	if findDerived(snap, "service:auth", "belongs_to", "team:core") == nil {
		t.Error("missing belongs_to inverse")
	}
}

func TestRunPassIsIdempotent(t *testing.T) {
	store := graph.NewMemoryStore()
	assert(t, store, "g1", "a", "contains", "b", 1.0)
	assert(t, store, "g1", "b", "contains", "c", 1.0)

	engine := NewEngine(store, testInferenceConfig(), zap.NewNop())
	ctx := context.Background()

	first, err := engine.RunPass(ctx, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.RunPass(ctx, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Inferred != first.Inferred {
		t.Errorf("second pass inferred %d, first %d", second.Inferred, first.Inferred)
	}
	if second.Discarded != first.Inferred {
		t.Errorf("second pass discarded %d, want %d", second.Discarded, first.Inferred)
	}

	// Derived facts never chain into new derived facts.
	snap, _ := store.Snapshot(ctx, "g1")
	derived := 0
	for _, tr := range snap {
		if tr.IsDerived {
			derived++
		}
	}
	if derived != first.Inferred {
		t.Errorf("got %d derived triples in store, want %d", derived, first.Inferred)
	}
}

func TestProve(t *testing.T) {
	store := graph.NewMemoryStore()
	assert(t, store, "g1", "a", "contains", "b", 1.0)
	assert(t, store, "g1", "b", "contains", "c", 0.9)
	assert(t, store, "g1", "person:bob", "reports_to", "person:alice", 1.0)

	engine := NewEngine(store, testInferenceConfig(), zap.NewNop())
	ctx := context.Background()

	proof, err := engine.Prove(ctx, "a", "contains", "b", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proof.Found || proof.Rule != "direct" || len(proof.Steps) != 1 {
		t.Errorf("direct proof: got %+v", proof)
	}

	proof, err = engine.Prove(ctx, "a", "contains", "c", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proof.Found || proof.Rule != "transitive" {
		t.Fatalf("transitive proof: got %+v", proof)
	}
	if len(proof.Steps) != 2 {
		t.Errorf("got %d proof steps, want 2", len(proof.Steps))
	}

	proof, err = engine.Prove(ctx, "person:alice", "manages", "person:bob", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proof.Found || proof.Rule != "inverse" {
		t.Errorf("inverse proof: got %+v", proof)
	}

	proof, err = engine.Prove(ctx, "c", "contains", "a", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof.Found {
		t.Error("proved a triple that does not hold")
	}
}

func TestDreamerDebouncesBursts(t *testing.T) {
	store := graph.NewMemoryStore()
	assert(t, store, "g1", "a", "contains", "b", 1.0)
	assert(t, store, "g1", "b", "contains", "c", 1.0)

	cfg := testInferenceConfig()
	engine := NewEngine(store, cfg, zap.NewNop())
	d := NewDreamer(engine, cfg, nil, zap.NewNop())
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Notify("g1")
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().PassesCompleted == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// The burst is inside one debounce window, so exactly one pass runs.
	time.Sleep(3 * cfg.Debounce())
	if got := d.Stats().PassesCompleted; got != 1 {
		t.Errorf("got %d passes for one burst, want 1", got)
	}
	if d.Stats().TriplesInferred == 0 {
		t.Error("pass recorded no inferred triples")
	}
}

func TestForceInferenceCancelsPendingTimer(t *testing.T) {
	store := graph.NewMemoryStore()
	assert(t, store, "g1", "a", "contains", "b", 1.0)

	cfg := testInferenceConfig()
	cfg.DebounceMS = 200
	engine := NewEngine(store, cfg, zap.NewNop())
	d := NewDreamer(engine, cfg, nil, zap.NewNop())
	defer d.Close()

	d.Notify("g1")
	res, err := d.ForceInference(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil {
		t.Fatal("nil result from forced pass")
	}

	time.Sleep(2 * cfg.Debounce())
	if got := d.Stats().PassesCompleted; got != 1 {
		t.Errorf("got %d passes, want 1 (forced pass subsumes the timer)", got)
	}
}
