package dream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/config"
	"github.com/mimo-os/mimo/internal/graph"
	"go.uber.org/zap"
)

// PassResult summarizes one inference pass.
type PassResult struct {
	Discarded int           `json:"discarded"`
	Inferred  int           `json:"inferred"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Proof is a backward-chaining derivation for a queried triple. Steps lists
// the asserted edges the conclusion rests on, in chain order.
type Proof struct {
	Found      bool            `json:"found"`
	Rule       string          `json:"rule,omitempty"` // "direct", "inverse", "transitive"
	Confidence float64         `json:"confidence,omitempty"`
	Steps      []*graph.Triple `json:"steps,omitempty"`
}

// Engine recomputes the derived layer of a graph. Each pass works on an
// in-memory snapshot, so a slow pass never holds store locks.
type Engine struct {
	store  graph.Store
	cfg    config.InferenceConfig
	logger *zap.Logger

	transitive map[string]bool
}

// NewEngine creates an inference engine over the given store.
func NewEngine(store graph.Store, cfg config.InferenceConfig, logger *zap.Logger) *Engine {
	transitive := make(map[string]bool, len(cfg.TransitivePredicates))
	for _, p := range cfg.TransitivePredicates {
		transitive[p] = true
	}
	return &Engine{store: store, cfg: cfg, logger: logger, transitive: transitive}
}

// RunPass discards the graph's derived triples and recomputes them from the
// asserted layer. Derived facts never feed further derivation, so the pass
// output is independent of any previous pass.
func (e *Engine) RunPass(ctx context.Context, graphID string) (*PassResult, error) {
	start := time.Now()

	snapshot, err := e.store.Snapshot(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("inference pass %s: %w", graphID, err)
	}

	asserted := snapshot[:0]
	for _, t := range snapshot {
		if !t.IsDerived {
			asserted = append(asserted, t)
		}
	}

	derived := e.deriveInverses(asserted, graphID)
	derived = append(derived, e.deriveTransitive(ctx, asserted, graphID)...)
	derived = dedupe(asserted, derived)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("inference pass %s: %w", graphID, err)
	}

	discarded, err := e.store.DeleteDerived(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("inference pass %s: discard: %w", graphID, err)
	}
	if len(derived) > 0 {
		if err := e.store.CreateDerived(ctx, graphID, derived); err != nil {
			return nil, fmt.Errorf("inference pass %s: write: %w", graphID, err)
		}
	}

	return &PassResult{
		Discarded: discarded,
		Inferred:  len(derived),
		Elapsed:   time.Since(start),
	}, nil
}

// Prove checks whether a triple holds, directly or by one derivation rule,
// and returns the asserted edges supporting it.
func (e *Engine) Prove(ctx context.Context, subject, predicate, object, graphID string) (*Proof, error) {
	edges, err := e.store.Relationships(ctx, subject, graph.DirBoth, graphID)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}

	for _, t := range edges {
		if t.IsDerived {
			continue
		}
		if t.SubjectID == subject && t.Predicate == predicate && t.ObjectID == object {
			return &Proof{Found: true, Rule: "direct", Confidence: t.Confidence,
				Steps: []*graph.Triple{t}}, nil
		}
		// subject <-[p]- object proves subject -[inverse(p)]-> object.
		if t.ObjectID == subject && t.SubjectID == object &&
			e.cfg.InversePredicates[t.Predicate] == predicate {
			return &Proof{Found: true, Rule: "inverse", Confidence: t.Confidence,
				Steps: []*graph.Triple{t}}, nil
		}
	}

	if e.transitive[predicate] {
		if proof := e.proveChain(ctx, subject, predicate, object, graphID); proof != nil {
			return proof, nil
		}
	}
	return &Proof{Found: false}, nil
}

// proveChain searches for an asserted predicate chain from subject to object
// within the depth bound. Returns nil when no chain exists.
func (e *Engine) proveChain(ctx context.Context, subject, predicate, object, graphID string) *Proof {
	type frame struct {
		id         string
		confidence float64
		steps      []*graph.Triple
	}
	visited := map[string]bool{subject: true}
	queue := []frame{{id: subject, confidence: 1.0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.steps) >= e.cfg.MaxDepth {
			continue
		}
		edges, err := e.store.Relationships(ctx, cur.id, graph.DirOut, graphID)
		if err != nil {
			e.logger.Warn("prove chain read failed", zap.Error(err))
			return nil
		}
		for _, t := range edges {
			if t.IsDerived || t.Predicate != predicate || visited[t.ObjectID] {
				continue
			}
			visited[t.ObjectID] = true
			steps := append(append([]*graph.Triple{}, cur.steps...), t)
			conf := cur.confidence * t.Confidence * e.cfg.HopDecay
			if t.ObjectID == object {
				return &Proof{Found: true, Rule: "transitive", Confidence: conf, Steps: steps}
			}
			queue = append(queue, frame{id: t.ObjectID, confidence: conf, steps: steps})
		}
	}
	return nil
}

// deriveInverses emits the mirror edge for every asserted triple whose
// predicate has a configured inverse.
func (e *Engine) deriveInverses(asserted []*graph.Triple, graphID string) []*graph.Triple {
	var out []*graph.Triple
	for _, t := range asserted {
		inv, ok := e.cfg.InversePredicates[t.Predicate]
		if !ok {
			continue
		}
		out = append(out, &graph.Triple{
			ID:         uuid.NewString(),
			SubjectID:  t.ObjectID,
			Predicate:  inv,
			ObjectID:   t.SubjectID,
			Confidence: t.Confidence,
			GraphID:    graphID,
			Provenance: graph.Provenance{Source: "inference", Method: "inferred"},
			IsDerived:  true,
			CreatedAt:  time.Now(),
		})
	}
	return out
}

// deriveTransitive closes each transitive predicate over the asserted layer.
// Confidence multiplies along the chain and decays per extra hop; chains stop
// at MaxDepth and the whole derivation stops at the visited cap.
func (e *Engine) deriveTransitive(ctx context.Context, asserted []*graph.Triple, graphID string) []*graph.Triple {
	adj := make(map[string][]*graph.Triple)
	nodes := make(map[string]bool)
	for _, t := range asserted {
		if !e.transitive[t.Predicate] {
			continue
		}
		adj[t.SubjectID] = append(adj[t.SubjectID], t)
		nodes[t.SubjectID] = true
	}

	type frame struct {
		id         string
		confidence float64
		depth      int
	}

	var out []*graph.Triple
	visitedTotal := 0
	for start := range nodes {
		if ctx.Err() != nil {
			return out
		}
		// One BFS per (start, predicate) pair.
		for _, first := range adj[start] {
			pred := first.Predicate
			seen := map[string]bool{start: true, first.ObjectID: true}
			queue := []frame{{id: first.ObjectID, confidence: first.Confidence, depth: 1}}
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				if cur.depth >= e.cfg.MaxDepth {
					continue
				}
				for _, t := range adj[cur.id] {
					if t.Predicate != pred || seen[t.ObjectID] {
						continue
					}
					seen[t.ObjectID] = true
					visitedTotal++
					if visitedTotal > e.cfg.MaxVisited {
						e.logger.Warn("transitive derivation hit visited cap",
							zap.String("graph_id", graphID))
						return out
					}
					conf := cur.confidence * t.Confidence * e.cfg.HopDecay
					out = append(out, &graph.Triple{
						ID:         uuid.NewString(),
						SubjectID:  start,
						Predicate:  pred,
						ObjectID:   t.ObjectID,
						Confidence: conf,
						GraphID:    graphID,
						Provenance: graph.Provenance{Source: "inference", Method: "inferred"},
						IsDerived:  true,
						CreatedAt:  time.Now(),
					})
					queue = append(queue, frame{id: t.ObjectID, confidence: conf, depth: cur.depth + 1})
				}
			}
		}
	}
	return out
}

// dedupe drops derived triples that duplicate an asserted edge or another
// derived one, keeping the higher-confidence duplicate.
func dedupe(asserted, derived []*graph.Triple) []*graph.Triple {
	key := func(t *graph.Triple) string {
		return t.SubjectID + "|" + t.Predicate + "|" + t.ObjectID
	}
	existing := make(map[string]bool, len(asserted))
	for _, t := range asserted {
		existing[key(t)] = true
	}
	best := make(map[string]*graph.Triple)
	for _, t := range derived {
		k := key(t)
		if existing[k] {
			continue
		}
		if cur, ok := best[k]; !ok || t.Confidence > cur.Confidence {
			best[k] = t
		}
	}
	out := make([]*graph.Triple, 0, len(best))
	for _, t := range derived {
		if best[key(t)] == t {
			out = append(out, t)
		}
	}
	return out
}
