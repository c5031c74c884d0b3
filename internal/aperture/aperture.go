// Package aperture is the public face of the memory system: the four
// operations an agent calls, backed by the full pipeline.
package aperture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mimo-os/mimo/internal/dream"
	"github.com/mimo-os/mimo/internal/ingest"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/query"
	"github.com/mimo-os/mimo/internal/resolve"
	"github.com/mimo-os/mimo/internal/retrieval"
	"github.com/mimo-os/mimo/internal/suggest"
	"github.com/mimo-os/mimo/internal/workingmem"
	"go.uber.org/zap"
)

// TeachRequest carries either free text or one explicit triple.
type TeachRequest struct {
	Text    string      `json:"text,omitempty"`
	Triple  *ingest.Raw `json:"triple,omitempty"`
	Source  string      `json:"source,omitempty"`
	GraphID string      `json:"graph_id"`
}

// TeachResult reports what a teach call produced. Status is "ok" or
// "ambiguous"; ambiguous calls create nothing and list the candidates.
type TeachResult struct {
	Status         string             `json:"status"`
	TriplesCreated int                `json:"triples_created"`
	Surface        string             `json:"surface,omitempty"`
	Candidates     []memerr.Candidate `json:"candidates,omitempty"`
	// SkippedAmbiguous lists extracted mentions that resolved ambiguously;
	// their triples were not written.
	SkippedAmbiguous []*memerr.AmbiguousError `json:"skipped_ambiguous,omitempty"`
}

// ConsultRequest asks a question. Either Query (routed retrieval) or
// Entity+Predicate (transitive closure) must be set.
type ConsultRequest struct {
	Query     string `json:"query,omitempty"`
	Entity    string `json:"entity,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	GraphID   string `json:"graph_id"`
	Limit     int    `json:"limit,omitempty"`
}

// ConsultResult is a routed answer with optional proactive suggestions.
type ConsultResult struct {
	Mode        retrieval.Mode       `json:"mode,omitempty"`
	Results     []retrieval.Result   `json:"results,omitempty"`
	Closure     []query.ClosureHit   `json:"closure,omitempty"`
	Suggestions []suggest.Suggestion `json:"suggestions,omitempty"`
}

// RecallItem is one recalled memory, from either tier.
type RecallItem struct {
	Source  string  `json:"source"` // "working" or "engram"
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// EngramAdmin is the feedback path into the durable store.
// Implemented by *engram.Store.
type EngramAdmin interface {
	SetImportance(ctx context.Context, id string, importance float64) error
	Protect(ctx context.Context, id string, protected bool) error
}

// Aperture wires the pipeline behind the public operations.
type Aperture struct {
	wm        *workingmem.Store
	ingestor  *ingest.Ingestor
	resolver  *resolve.Resolver
	router    *retrieval.Router
	retriever *retrieval.Retriever
	queries   *query.Engine
	engrams   EngramAdmin
	dreamer   *dream.Dreamer
	observer  *suggest.Observer
	logger    *zap.Logger
}

// New assembles the facade. engrams, dreamer, and observer may be nil.
func New(wm *workingmem.Store, ingestor *ingest.Ingestor, resolver *resolve.Resolver,
	router *retrieval.Router, retriever *retrieval.Retriever, queries *query.Engine,
	engrams EngramAdmin, dreamer *dream.Dreamer, observer *suggest.Observer,
	logger *zap.Logger) *Aperture {
	return &Aperture{
		wm:        wm,
		ingestor:  ingestor,
		resolver:  resolver,
		router:    router,
		retriever: retriever,
		queries:   queries,
		engrams:   engrams,
		dreamer:   dreamer,
		observer:  observer,
		logger:    logger,
	}
}

// Teach stores knowledge. Ambiguous entity mentions are reported back to
// the caller instead of guessing.
func (a *Aperture) Teach(ctx context.Context, req TeachRequest) (*TeachResult, error) {
	switch {
	case req.Triple != nil:
		raw := *req.Triple
		raw.GraphID = req.GraphID
		if raw.Source == "" {
			raw.Source = req.Source
		}
		_, err := a.ingestor.Ingest(ctx, raw)
		if err != nil {
			var amb *memerr.AmbiguousError
			if errors.As(err, &amb) {
				return &TeachResult{Status: "ambiguous", Surface: amb.Surface,
					Candidates: amb.Candidates}, nil
			}
			return nil, err
		}
		return &TeachResult{Status: "ok", TriplesCreated: 1}, nil

	case req.Text != "":
		triples, skipped, err := a.ingestor.IngestText(ctx, req.Text, req.GraphID)
		if err != nil {
			return nil, err
		}
		res := &TeachResult{
			Status:           "ok",
			TriplesCreated:   len(triples),
			SkippedAmbiguous: skipped,
		}
		if len(triples) == 0 && len(skipped) > 0 {
			res.Status = "ambiguous"
		}
		return res, nil

	default:
		return nil, fmt.Errorf("teach: neither text nor triple given")
	}
}

// Consult answers a question. Entity+Predicate runs a transitive closure;
// a free-text query is routed across the retrieval legs.
func (a *Aperture) Consult(ctx context.Context, req ConsultRequest) (*ConsultResult, error) {
	if req.Entity != "" && req.Predicate != "" {
		hits, err := a.queries.TransitiveClosure(ctx, req.Entity, req.Predicate, req.GraphID,
			query.ClosureOptions{MaxDepth: req.Depth})
		if err != nil {
			return nil, err
		}
		res := &ConsultResult{Closure: hits}
		a.attachSuggestions(ctx, res, req.Entity, req.GraphID)
		return res, nil
	}
	if req.Query == "" {
		return nil, fmt.Errorf("consult: neither query nor entity/predicate given")
	}

	mode := a.router.Route(ctx, req.Query)
	entityID := a.resolveForGraphLeg(ctx, mode, req.Query, req.GraphID)
	results, err := a.retriever.Retrieve(ctx, retrieval.Request{
		Query:    req.Query,
		GraphID:  req.GraphID,
		EntityID: entityID,
		Limit:    req.Limit,
		Mode:     mode,
	})
	if err != nil {
		return nil, err
	}
	res := &ConsultResult{Mode: mode, Results: results}
	if entityID != "" {
		a.attachSuggestions(ctx, res, entityID, req.GraphID)
	}
	return res, nil
}

// Remember stores one ephemeral fact in working memory.
func (a *Aperture) Remember(ctx context.Context, content string, importance float64, ttl time.Duration, sessionID string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("remember: empty content")
	}
	return a.wm.Store(content, importance, ttl, sessionID), nil
}

// Recall searches both memory tiers and returns the blended list, working
// memory first at equal score.
func (a *Aperture) Recall(ctx context.Context, queryText string, limit int) ([]RecallItem, error) {
	if limit <= 0 {
		limit = 10
	}

	var items []RecallItem
	for _, hit := range a.wm.Search(queryText, limit) {
		items = append(items, RecallItem{
			Source:  "working",
			ID:      hit.Item.ID,
			Content: hit.Item.Content,
			Score:   hit.Score,
		})
	}

	results, err := a.retriever.Retrieve(ctx, retrieval.Request{
		Query: queryText,
		Limit: limit,
		Mode:  retrieval.ModeNarrative,
	})
	if err != nil {
		// Durable retrieval failing should not hide working memory.
		a.logger.Warn("durable recall failed", zap.Error(err))
	}
	for _, r := range results {
		if r.Kind == "engram" {
			items = append(items, RecallItem{
				Source:  "engram",
				ID:      r.ID,
				Content: r.Content,
				Score:   r.Score,
			})
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Reinforce applies caller feedback to a durable engram: a new importance,
// a protection flag, or both. Protected engrams are exempt from forgetting.
func (a *Aperture) Reinforce(ctx context.Context, id string, importance *float64, protected *bool) error {
	if a.engrams == nil {
		return fmt.Errorf("reinforce: durable memory disabled")
	}
	if importance == nil && protected == nil {
		return fmt.Errorf("reinforce: nothing to change")
	}
	if importance != nil {
		if *importance < 0 || *importance > 1 {
			return fmt.Errorf("reinforce: importance %v out of range [0,1]", *importance)
		}
		if err := a.engrams.SetImportance(ctx, id, *importance); err != nil {
			return fmt.Errorf("reinforce %s: %w", id, err)
		}
	}
	if protected != nil {
		if err := a.engrams.Protect(ctx, id, *protected); err != nil {
			return fmt.Errorf("reinforce %s: %w", id, err)
		}
	}
	return nil
}

// ForceInference triggers an immediate inference pass for a graph.
func (a *Aperture) ForceInference(ctx context.Context, graphID string) (*dream.PassResult, error) {
	if a.dreamer == nil {
		return nil, fmt.Errorf("inference disabled")
	}
	return a.dreamer.ForceInference(ctx, graphID)
}

func (a *Aperture) attachSuggestions(ctx context.Context, res *ConsultResult, entityID, graphID string) {
	if a.observer == nil {
		return
	}
	suggestions, err := a.observer.Observe(ctx, entityID, graphID)
	if err != nil {
		a.logger.Debug("suggestions unavailable", zap.Error(err))
		return
	}
	res.Suggestions = suggestions
}

// resolveForGraphLeg maps the query text to an entity when the graph leg
// will run. Ambiguity or a miss just disables the leg.
func (a *Aperture) resolveForGraphLeg(ctx context.Context, mode retrieval.Mode, queryText, graphID string) string {
	if mode == retrieval.ModeNarrative || a.resolver == nil {
		return ""
	}
	res, err := a.resolver.Resolve(ctx, queryText, resolve.Options{GraphID: graphID})
	if err != nil || res.Status != resolve.StatusResolved {
		return ""
	}
	return res.CanonicalID
}
