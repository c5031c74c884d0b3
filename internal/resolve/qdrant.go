package resolve

import (
	"context"
	"strconv"

	"github.com/mimo-os/mimo/internal/vectorstore"
)

// QdrantAnchors implements AnchorIndex on the entity_anchors collection.
type QdrantAnchors struct {
	client *vectorstore.Client
}

// NewQdrantAnchors wraps a vector store client as the anchor index.
func NewQdrantAnchors(client *vectorstore.Client) *QdrantAnchors {
	return &QdrantAnchors{client: client}
}

func (q *QdrantAnchors) Search(ctx context.Context, graphID string, vector []float32, limit int) ([]AnchorHit, error) {
	results, err := q.client.Search(ctx, vectorstore.CollAnchors, vector, uint64(limit),
		map[string]string{"graph_id": graphID})
	if err != nil {
		return nil, err
	}
	hits := make([]AnchorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, AnchorHit{
			CanonicalID: r.Payload["canonical_id"],
			Surface:     r.Payload["surface"],
			Score:       float64(r.Score),
		})
	}
	return hits, nil
}

func (q *QdrantAnchors) Upsert(ctx context.Context, anchor Anchor, vector []float32) error {
	return q.client.Upsert(ctx, vectorstore.CollAnchors, anchor.ID, vector, map[string]string{
		"canonical_id": anchor.CanonicalID,
		"surface":      anchor.Surface,
		"graph_id":     anchor.GraphID,
		"entity_type":  anchor.EntityType,
		"created_at":   strconv.FormatInt(anchor.CreatedAt.Unix(), 10),
	})
}
