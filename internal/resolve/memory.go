package resolve

import (
	"context"
	"math"
	"sync"
)

// MemoryIndex is an in-process AnchorIndex used when no vector store is
// configured. Search is a linear cosine scan; fine for small graphs.
type MemoryIndex struct {
	mu      sync.RWMutex
	anchors map[string]Anchor
	vectors map[string][]float32
}

// NewMemoryIndex creates an empty in-memory anchor index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		anchors: make(map[string]Anchor),
		vectors: make(map[string][]float32),
	}
}

func (m *MemoryIndex) Search(_ context.Context, graphID string, vector []float32, limit int) ([]AnchorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []AnchorHit
	for id, a := range m.anchors {
		if a.GraphID != graphID {
			continue
		}
		hits = append(hits, AnchorHit{
			CanonicalID: a.CanonicalID,
			Surface:     a.Surface,
			Score:       cosineSim(vector, m.vectors[id]),
		})
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, anchor Anchor, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchor.ID] = anchor
	m.vectors[anchor.ID] = vector
	return nil
}

func cosineSim(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
