// Package suggest surfaces proactive hints from an entity's graph
// neighborhood. Suggestions are ephemeral: computed per turn, never stored.
package suggest

import (
	"context"
	"fmt"
	"sort"

	"github.com/mimo-os/mimo/internal/graph"
)

// Suggestion is one hint the caller may show alongside an answer.
type Suggestion struct {
	EntityID   string  `json:"entity_id"`
	Predicate  string  `json:"predicate"`
	RelatedID  string  `json:"related_id"`
	Confidence float64 `json:"confidence"`
	Derived    bool    `json:"derived"`
}

// Observer builds suggestions from direct relationships.
type Observer struct {
	store   graph.Store
	perTurn int
}

// NewObserver creates an observer capped at maxPerTurn suggestions.
func NewObserver(store graph.Store, maxPerTurn int) *Observer {
	if maxPerTurn <= 0 {
		maxPerTurn = 2
	}
	return &Observer{store: store, perTurn: maxPerTurn}
}

// Observe returns the strongest related facts for an entity, at most the
// per-turn cap, highest confidence first.
func (o *Observer) Observe(ctx context.Context, entityID, graphID string) ([]Suggestion, error) {
	edges, err := o.store.Relationships(ctx, entityID, graph.DirBoth, graphID)
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w", entityID, err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	sort.SliceStable(edges, func(i, j int) bool {
		// Asserted facts beat derived ones at equal confidence.
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return !edges[i].IsDerived && edges[j].IsDerived
	})

	out := make([]Suggestion, 0, o.perTurn)
	for _, t := range edges {
		if len(out) == o.perTurn {
			break
		}
		related := t.ObjectID
		if related == entityID {
			related = t.SubjectID
		}
		out = append(out, Suggestion{
			EntityID:   entityID,
			Predicate:  t.Predicate,
			RelatedID:  related,
			Confidence: t.Confidence,
			Derived:    t.IsDerived,
		})
	}
	return out, nil
}
