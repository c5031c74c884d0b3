package graph

import (
	"context"
	"sync"

	"github.com/mimo-os/mimo/internal/memerr"
)

// MemoryStore is an in-process Store used in tests and as a fallback when
// Neo4j is not configured. All mutations are serialized behind one mutex;
// readers get copies, never shared references.
type MemoryStore struct {
	mu      sync.RWMutex
	triples []*Triple
	byID    map[string]*Triple
}

// NewMemoryStore creates an empty in-memory triple store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Triple)}
}

func (s *MemoryStore) CreateTriple(_ context.Context, t *Triple) error {
	prepare(t)
	cp := *t

	s.mu.Lock()
	defer s.mu.Unlock()
	s.triples = append(s.triples, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateDerived(_ context.Context, graphID string, triples []*Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range triples {
		t.IsDerived = true
		t.GraphID = graphID
		prepare(t)
		cp := *t
		s.triples = append(s.triples, &cp)
		s.byID[cp.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) DeleteDerived(_ context.Context, graphID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.triples[:0]
	deleted := 0
	for _, t := range s.triples {
		if t.GraphID == graphID && t.IsDerived {
			delete(s.byID, t.ID)
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.triples = kept
	return deleted, nil
}

func (s *MemoryStore) Relationships(_ context.Context, entityID string, dir Direction, graphID string) ([]*Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Triple
	for _, t := range s.triples {
		if t.GraphID != graphID {
			continue
		}
		outgoing := t.SubjectID == entityID
		incoming := t.ObjectID == entityID
		switch dir {
		case DirOut:
			if !outgoing {
				continue
			}
		case DirIn:
			if !incoming {
				continue
			}
		default:
			if !outgoing && !incoming {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, graphID string) ([]*Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Triple
	for _, t := range s.triples {
		if t.GraphID == graphID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateConfidence(_ context.Context, id string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return memerr.ErrNotFound
	}
	t.Confidence = confidence
	return nil
}

func (s *MemoryStore) CountByPredicate(_ context.Context, graphID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, t := range s.triples {
		if t.GraphID == graphID {
			counts[t.Predicate]++
		}
	}
	return counts, nil
}
