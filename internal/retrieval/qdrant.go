package retrieval

import (
	"context"

	"github.com/mimo-os/mimo/internal/vectorstore"
)

// QdrantEngrams implements EngramIndex on the engrams collection.
type QdrantEngrams struct {
	client *vectorstore.Client
}

// NewQdrantEngrams wraps a vector store client as the engram index.
func NewQdrantEngrams(client *vectorstore.Client) *QdrantEngrams {
	return &QdrantEngrams{client: client}
}

func (q *QdrantEngrams) Search(ctx context.Context, vector []float32, limit int) ([]VectorHit, error) {
	results, err := q.client.Search(ctx, vectorstore.CollEngrams, vector, uint64(limit), nil)
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, VectorHit{EngramID: r.ID, Score: float64(r.Score)})
	}
	return hits, nil
}
