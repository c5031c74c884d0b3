// Package api exposes the memory system over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mimo-os/mimo/internal/aperture"
	"github.com/mimo-os/mimo/internal/dream"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/query"
	"github.com/mimo-os/mimo/internal/workingmem"
	"go.uber.org/zap"
)

// CategoryCounts reports durable memory counts for the stats endpoint.
type CategoryCounts func(ctx context.Context) (map[string]int, error)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ap      *aperture.Aperture
	wm      *workingmem.Store
	queries *query.Engine
	dreamer *dream.Dreamer
	counts  CategoryCounts
	logger  *zap.Logger
}

// NewHandler creates the API handler. queries, dreamer, and counts may be
// nil; the stats endpoint reports what is available.
func NewHandler(ap *aperture.Aperture, wm *workingmem.Store, queries *query.Engine,
	dreamer *dream.Dreamer, counts CategoryCounts, logger *zap.Logger) *Handler {
	return &Handler{
		ap:      ap,
		wm:      wm,
		queries: queries,
		dreamer: dreamer,
		counts:  counts,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/teach", h.teach)
			r.Post("/consult", h.consult)
			r.Post("/remember", h.remember)
			r.Post("/recall", h.recall)
			r.Post("/infer", h.forceInference)
			r.Post("/engram/{id}", h.reinforce)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) teach(w http.ResponseWriter, r *http.Request) {
	var req aperture.TeachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.GraphID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "graph_id is required"})
		return
	}

	result, err := h.ap.Teach(r.Context(), req)
	if err != nil {
		h.writeError(w, "teach", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) consult(w http.ResponseWriter, r *http.Request) {
	var req aperture.ConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.ap.Consult(r.Context(), req)
	if err != nil {
		h.writeError(w, "consult", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rememberRequest struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	TTLSeconds int     `json:"ttl_seconds,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
}

func (h *Handler) remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	id, err := h.ap.Remember(r.Context(), req.Content, req.Importance, ttl, req.SessionID)
	if err != nil {
		h.writeError(w, "remember", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type recallRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (h *Handler) recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	items, err := h.ap.Recall(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.writeError(w, "recall", err)
		return
	}
	if items == nil {
		items = []aperture.RecallItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type reinforceRequest struct {
	Importance *float64 `json:"importance,omitempty"`
	Protected  *bool    `json:"protected,omitempty"`
}

func (h *Handler) reinforce(w http.ResponseWriter, r *http.Request) {
	var req reinforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Importance == nil && req.Protected == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "importance or protected is required"})
		return
	}
	if req.Importance != nil && (*req.Importance < 0 || *req.Importance > 1) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "importance must be in [0,1]"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.ap.Reinforce(r.Context(), id, req.Importance, req.Protected); err != nil {
		h.writeError(w, "reinforce", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type inferRequest struct {
	GraphID string `json:"graph_id"`
}

func (h *Handler) forceInference(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.GraphID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "graph_id is required"})
		return
	}

	result, err := h.ap.ForceInference(r.Context(), req.GraphID)
	if err != nil {
		h.writeError(w, "infer", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"working_memory_items": h.wm.Len(),
	}
	if h.counts != nil {
		if counts, err := h.counts(r.Context()); err == nil {
			stats["engrams_by_category"] = counts
		} else {
			h.logger.Warn("engram stats unavailable", zap.Error(err))
		}
	}
	if h.queries != nil {
		graphID := r.URL.Query().Get("graph_id")
		if graphID != "" {
			if counts, err := h.queries.CountByPredicate(r.Context(), graphID); err == nil {
				stats["triples_by_predicate"] = counts
			} else {
				h.logger.Warn("graph stats unavailable", zap.Error(err))
			}
		}
	}
	if h.dreamer != nil {
		stats["inference"] = h.dreamer.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeError maps pipeline errors to HTTP statuses. Ambiguity is not an
// error at this layer, the aperture reports it in-band.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memerr.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, memerr.ErrInferenceTimeout):
		status = http.StatusGatewayTimeout
	}
	h.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
