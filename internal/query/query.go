// Package query answers structured questions over the knowledge graph.
// Traversal runs application-side over snapshots and edge reads, so the
// same engine works against Neo4j and the in-memory store.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/mimo-os/mimo/internal/graph"
	"go.uber.org/zap"
)

// Default traversal bounds.
const (
	DefaultMaxDepth      = 5
	DefaultMinConfidence = 0.2
	visitedCap           = 1000
)

// ClosureHit is one entity reachable through a predicate chain. Confidence
// multiplies along the chain, so distant conclusions are weaker.
type ClosureHit struct {
	EntityID   string   `json:"entity_id"`
	Confidence float64  `json:"confidence"`
	Depth      int      `json:"depth"`
	Path       []string `json:"path"`
}

// Pattern is one (subject, predicate, object) template. An empty field is a
// wildcard; a field starting with '?' names a variable shared across the
// pattern set.
type Pattern struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// ClosureOptions bounds a transitive closure walk.
type ClosureOptions struct {
	MaxDepth      int
	MinConfidence float64
}

// Engine evaluates graph queries.
type Engine struct {
	store  graph.Store
	logger *zap.Logger
}

// NewEngine creates a query engine over the given store.
func NewEngine(store graph.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Relationships returns the direct edges of an entity.
func (e *Engine) Relationships(ctx context.Context, entityID string, dir graph.Direction, graphID string) ([]*graph.Triple, error) {
	return e.store.Relationships(ctx, entityID, dir, graphID)
}

// TransitiveClosure walks outgoing edges with the given predicate from
// start, multiplying confidence per hop and pruning below MinConfidence.
// Cycles terminate through the visited set.
func (e *Engine) TransitiveClosure(ctx context.Context, start, predicate, graphID string, opts ClosureOptions) ([]ClosureHit, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}

	type frame struct {
		id         string
		confidence float64
		depth      int
		path       []string
	}

	visited := map[string]bool{start: true}
	queue := []frame{{id: start, confidence: 1.0, path: []string{start}}}
	var hits []ClosureHit

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= opts.MaxDepth {
			continue
		}

		edges, err := e.store.Relationships(ctx, cur.id, graph.DirOut, graphID)
		if err != nil {
			return nil, fmt.Errorf("closure from %s: %w", start, err)
		}
		for _, t := range edges {
			if t.Predicate != predicate {
				continue
			}
			conf := cur.confidence * t.Confidence
			if conf < opts.MinConfidence {
				continue
			}
			if visited[t.ObjectID] {
				continue
			}
			visited[t.ObjectID] = true
			if len(visited) > visitedCap {
				e.logger.Warn("closure visited cap reached",
					zap.String("start", start), zap.String("predicate", predicate))
				return hits, nil
			}
			path := append(append([]string{}, cur.path...), t.ObjectID)
			hits = append(hits, ClosureHit{
				EntityID:   t.ObjectID,
				Confidence: conf,
				Depth:      cur.depth + 1,
				Path:       path,
			})
			queue = append(queue, frame{id: t.ObjectID, confidence: conf, depth: cur.depth + 1, path: path})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })
	return hits, nil
}

// PatternMatch finds variable bindings satisfying every pattern at once.
// Each result maps variable names (without the '?') to entity ids.
func (e *Engine) PatternMatch(ctx context.Context, patterns []Pattern, graphID string) ([]map[string]string, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("pattern match: no patterns")
	}
	snapshot, err := e.store.Snapshot(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("pattern match: %w", err)
	}

	bindings := []map[string]string{{}}
	for _, p := range patterns {
		var next []map[string]string
		for _, binding := range bindings {
			for _, t := range snapshot {
				extended, ok := matchTriple(p, t, binding)
				if ok {
					next = append(next, extended)
				}
			}
		}
		if len(next) == 0 {
			return nil, nil
		}
		bindings = dedupeBindings(next)
	}
	return bindings, nil
}

// FindPath returns the shortest edge path between two entities, following
// edges in either direction, or nil when none exists within maxDepth.
func (e *Engine) FindPath(ctx context.Context, from, to, graphID string, maxDepth int) ([]*graph.Triple, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth * 2
	}
	if from == to {
		return []*graph.Triple{}, nil
	}

	type step struct {
		id   string
		path []*graph.Triple
	}
	visited := map[string]bool{from: true}
	queue := []step{{id: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= maxDepth {
			continue
		}
		edges, err := e.store.Relationships(ctx, cur.id, graph.DirBoth, graphID)
		if err != nil {
			return nil, fmt.Errorf("find path %s->%s: %w", from, to, err)
		}
		for _, t := range edges {
			next := t.ObjectID
			if next == cur.id {
				next = t.SubjectID
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(append([]*graph.Triple{}, cur.path...), t)
			if next == to {
				return path, nil
			}
			queue = append(queue, step{id: next, path: path})
		}
	}
	return nil, nil
}

// CountByPredicate reports triple counts per predicate for stats.
func (e *Engine) CountByPredicate(ctx context.Context, graphID string) (map[string]int, error) {
	return e.store.CountByPredicate(ctx, graphID)
}

// matchTriple tries to unify a pattern with a triple under an existing
// binding, returning the extended binding on success.
func matchTriple(p Pattern, t *graph.Triple, binding map[string]string) (map[string]string, bool) {
	out := binding
	extended := false
	bind := func(field, value string) bool {
		if field == "" {
			return true
		}
		if field[0] != '?' {
			return field == value
		}
		name := field[1:]
		if bound, ok := out[name]; ok {
			return bound == value
		}
		if !extended {
			copied := make(map[string]string, len(out)+1)
			for k, v := range out {
				copied[k] = v
			}
			out = copied
			extended = true
		}
		out[name] = value
		return true
	}
	if !bind(p.Subject, t.SubjectID) {
		return nil, false
	}
	if !bind(p.Predicate, t.Predicate) {
		return nil, false
	}
	if !bind(p.Object, t.ObjectID) {
		return nil, false
	}
	return out, true
}

func dedupeBindings(bindings []map[string]string) []map[string]string {
	seen := make(map[string]bool, len(bindings))
	out := bindings[:0]
	for _, b := range bindings {
		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sig string
		for _, k := range keys {
			sig += k + "=" + b[k] + ";"
		}
		if !seen[sig] {
			seen[sig] = true
			out = append(out, b)
		}
	}
	return out
}
