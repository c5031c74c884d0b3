package consolidate

import (
	"context"

	"github.com/mimo-os/mimo/internal/vectorstore"
)

// QdrantIndex implements VectorIndex on the engrams collection.
type QdrantIndex struct {
	client *vectorstore.Client
}

// NewQdrantIndex wraps a vector store client for novelty checks and
// engram vector writes.
func NewQdrantIndex(client *vectorstore.Client) *QdrantIndex {
	return &QdrantIndex{client: client}
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	results, err := q.client.Search(ctx, vectorstore.CollEngrams, vector, uint64(limit), nil)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{EngramID: r.ID, Score: float64(r.Score)})
	}
	return hits, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	return q.client.Upsert(ctx, vectorstore.CollEngrams, id, vector, payload)
}
