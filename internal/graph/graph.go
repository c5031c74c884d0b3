// Package graph defines the knowledge-graph triple model and its stores.
//
// Two implementations exist: the Neo4j-backed store used in production and
// an in-memory store used in tests and when Neo4j is unavailable. Traversal
// (closure, path finding, inference) happens application-side in the query
// and dream packages; the stores only provide edge primitives.
package graph

import (
	"context"
	"time"
)

// Direction selects which edges of an entity to fetch.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// Provenance records where a triple came from.
type Provenance struct {
	Source string `json:"source"`
	Method string `json:"method"` // "asserted", "extracted", "inferred"
}

// Triple is a (subject, predicate, object) edge with confidence and
// provenance. Derived triples are recomputable: an inference pass may
// discard and re-create them at any time, so they are always
// distinguishable from asserted ones.
type Triple struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Predicate  string     `json:"predicate"`
	ObjectID   string     `json:"object_id"`
	Confidence float64    `json:"confidence"`
	Context    string     `json:"context,omitempty"`
	GraphID    string     `json:"graph_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Provenance Provenance `json:"provenance"`
	IsDerived  bool       `json:"is_derived"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store is the triple persistence contract.
type Store interface {
	// CreateTriple persists one asserted triple atomically.
	CreateTriple(ctx context.Context, t *Triple) error
	// CreateDerived persists a batch of inferred triples in one write
	// transaction.
	CreateDerived(ctx context.Context, graphID string, triples []*Triple) error
	// DeleteDerived removes all inferred triples for a graph so a pass can
	// recompute them from scratch.
	DeleteDerived(ctx context.Context, graphID string) (int, error)
	// Relationships returns the direct edges of an entity.
	Relationships(ctx context.Context, entityID string, dir Direction, graphID string) ([]*Triple, error)
	// Snapshot returns every triple in a graph for an in-memory pass.
	Snapshot(ctx context.Context, graphID string) ([]*Triple, error)
	// UpdateConfidence adjusts a triple's confidence, the only mutation
	// allowed after creation.
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
	// CountByPredicate returns triple counts per predicate for stats.
	CountByPredicate(ctx context.Context, graphID string) (map[string]int, error)
}
