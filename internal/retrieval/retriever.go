package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/engram"
	"github.com/mimo-os/mimo/internal/graph"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// VectorHit is one engram returned by the vector leg.
type VectorHit struct {
	EngramID string
	Score    float64
}

// EngramIndex is the vector search over stored engrams.
type EngramIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]VectorHit, error)
}

// RecencyIndex lists engram ids by last access, most recent first.
type RecencyIndex interface {
	Recent(ctx context.Context, limit int) ([]string, error)
}

// EngramSource reads engram records for scoring.
type EngramSource interface {
	GetBatch(ctx context.Context, ids []string) ([]*engram.Engram, error)
}

// AccessRecorder receives fire-and-forget access events for returned items.
type AccessRecorder interface {
	Record(engramID string)
}

// Result is one ranked retrieval hit. Engram hits carry memory content;
// entity hits carry a graph edge set instead.
type Result struct {
	Kind     string          `json:"kind"` // "engram" or "entity"
	ID       string          `json:"id"`
	Content  string          `json:"content,omitempty"`
	Edges    []*graph.Triple `json:"edges,omitempty"`
	Score    float64         `json:"score"`
	Tier     Tier            `json:"tier"`
	Signals  Signals         `json:"signals"`
	Category string          `json:"category,omitempty"`
}

// Request describes one retrieval.
type Request struct {
	Query   string
	GraphID string
	// EntityID, when already resolved by the caller, enables the graph leg.
	EntityID string
	Limit    int
	Mode     Mode
}

// Retriever fans the three evidence legs out in parallel and merges them
// under the unified score. A failed leg degrades the answer, it does not
// fail the request.
type Retriever struct {
	embedder     embedding.Provider
	index        EngramIndex
	engrams      EngramSource
	graphs       graph.Store
	recency      RecencyIndex
	access       AccessRecorder
	weights      Weights
	defaultLimit int
	emit         telemetry.Emitter
	logger       *zap.Logger
}

// NewRetriever wires the hybrid retriever. recency, graphs, and access may
// be nil; the corresponding leg is skipped. defaultLimit caps requests that
// do not set their own limit; zero or negative falls back to 10.
func NewRetriever(embedder embedding.Provider, index EngramIndex, engrams EngramSource,
	graphs graph.Store, recency RecencyIndex, access AccessRecorder, defaultLimit int,
	emit telemetry.Emitter, logger *zap.Logger) (*Retriever, error) {
	weights := DefaultWeights()
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Retriever{
		embedder:     embedder,
		index:        index,
		engrams:      engrams,
		graphs:       graphs,
		recency:      recency,
		access:       access,
		weights:      weights,
		defaultLimit: defaultLimit,
		emit:         emit,
		logger:       logger,
	}, nil
}

// Retrieve runs the legs selected by the request mode and returns the
// merged, tiered ranking.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	if req.Limit <= 0 {
		req.Limit = r.defaultLimit
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	var (
		wg         sync.WaitGroup
		vectorHits []VectorHit
		recentIDs  []string
		edges      []*graph.Triple
	)

	if req.Mode != ModeLogic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := r.vectorLeg(ctx, req.Query, req.Limit*3)
			if err != nil {
				r.logger.Warn("vector leg failed", zap.Error(err))
				return
			}
			vectorHits = hits
		}()

		if r.recency != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids, err := r.recency.Recent(ctx, req.Limit*3)
				if err != nil {
					r.logger.Warn("recency leg failed", zap.Error(err))
					return
				}
				recentIDs = ids
			}()
		}
	}

	if req.Mode != ModeNarrative && r.graphs != nil && req.EntityID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rels, err := r.graphs.Relationships(ctx, req.EntityID, graph.DirBoth, req.GraphID)
			if err != nil {
				r.logger.Warn("graph leg failed", zap.Error(err))
				return
			}
			edges = rels
		}()
	}
	wg.Wait()

	results, err := r.merge(ctx, req, vectorHits, recentIDs, edges)
	if err != nil {
		return nil, err
	}

	if r.access != nil {
		for _, res := range results {
			if res.Kind == "engram" {
				r.access.Record(res.ID)
			}
		}
	}
	r.emit.Emit(telemetry.EventRetrieval,
		map[string]float64{"results": float64(len(results))},
		map[string]string{"mode": string(req.Mode)})
	return results, nil
}

func (r *Retriever) vectorLeg(ctx context.Context, query string, limit int) ([]VectorHit, error) {
	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.index.Search(ctx, vec, limit)
}

func (r *Retriever) merge(ctx context.Context, req Request,
	vectorHits []VectorHit, recentIDs []string, edges []*graph.Triple) ([]Result, error) {

	vectorScore := make(map[string]float64, len(vectorHits))
	for _, h := range vectorHits {
		vectorScore[h.EngramID] = h.Score
	}
	recencyScore := make(map[string]float64, len(recentIDs))
	for i, id := range recentIDs {
		recencyScore[id] = 1 - float64(i)/float64(len(recentIDs))
	}

	ids := make([]string, 0, len(vectorScore)+len(recencyScore))
	seen := make(map[string]bool)
	for _, h := range vectorHits {
		if !seen[h.EngramID] {
			seen[h.EngramID] = true
			ids = append(ids, h.EngramID)
		}
	}
	for _, id := range recentIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var results []Result
	if len(ids) > 0 {
		records, err := r.engrams.GetBatch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("retrieve: load engrams: %w", err)
		}
		for _, e := range records {
			s := Signals{
				Vector:     vectorScore[e.ID],
				Recency:    recencyScore[e.ID],
				Frequency:  frequencyFactor(e.AccessCount),
				Importance: e.Importance,
			}
			score := r.weights.Score(s)
			results = append(results, Result{
				Kind:     "engram",
				ID:       e.ID,
				Content:  e.Content,
				Category: e.Category,
				Score:    score,
				Tier:     ClassifyTier(score),
				Signals:  s,
			})
		}
	}

	if len(edges) > 0 {
		var confSum float64
		for _, t := range edges {
			confSum += t.Confidence
		}
		s := Signals{
			Connectivity: connectivityFactor(len(edges)),
			Importance:   clamp01(confSum / float64(len(edges))),
		}
		score := r.weights.Score(s)
		results = append(results, Result{
			Kind:    "entity",
			ID:      req.EntityID,
			Edges:   edges,
			Score:   score,
			Tier:    ClassifyTier(score),
			Signals: s,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}
