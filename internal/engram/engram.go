// Package engram implements the durable long-term memory store and the
// batched access tracker that feeds recency/frequency signals back into
// retrieval.
package engram

import (
	"time"
)

// Engram is a durable, scored long-term memory record. Rows live in
// Postgres; the embedding itself lives in the vector index keyed by ID and
// is only populated on this struct in flight.
type Engram struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	Importance     float64   `json:"importance"`
	Embedding      []float32 `json:"-"`
	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	DecayRate      float64   `json:"decay_rate"`
	Protected      bool      `json:"protected"`
	SourceItemID   string    `json:"source_item_id,omitempty"`
	InsertedAt     time.Time `json:"inserted_at"`
}
