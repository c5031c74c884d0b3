package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mimo-os/mimo/internal/aperture"
	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/engram"
	"github.com/mimo-os/mimo/internal/graph"
	"github.com/mimo-os/mimo/internal/ingest"
	"github.com/mimo-os/mimo/internal/llm"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/query"
	"github.com/mimo-os/mimo/internal/resolve"
	"github.com/mimo-os/mimo/internal/retrieval"
	"github.com/mimo-os/mimo/internal/suggest"
	"github.com/mimo-os/mimo/internal/workingmem"
	"go.uber.org/zap"
)

type memAnchorIndex struct {
	mu      sync.Mutex
	anchors map[string]resolve.Anchor
	vectors map[string][]float32
}

func (m *memAnchorIndex) Search(_ context.Context, graphID string, vector []float32, _ int) ([]resolve.AnchorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []resolve.AnchorHit
	for id, a := range m.anchors {
		if a.GraphID != graphID {
			continue
		}
		same := true
		v := m.vectors[id]
		for i := range vector {
			if vector[i] != v[i] {
				same = false
				break
			}
		}
		score := 0.0
		if same {
			score = 1.0
		}
		hits = append(hits, resolve.AnchorHit{CanonicalID: a.CanonicalID, Surface: a.Surface, Score: score})
	}
	return hits, nil
}

func (m *memAnchorIndex) Upsert(_ context.Context, anchor resolve.Anchor, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchor.ID] = anchor
	m.vectors[anchor.ID] = vector
	return nil
}

type memEngramIndex struct{}

func (memEngramIndex) Search(context.Context, []float32, int) ([]retrieval.VectorHit, error) {
	return nil, nil
}

type memEngrams struct{}

func (memEngrams) GetBatch(context.Context, []string) ([]*engram.Engram, error) { return nil, nil }

type fakeEngramAdmin struct {
	mu         sync.Mutex
	importance map[string]float64
	protected  map[string]bool
}

func newFakeEngramAdmin() *fakeEngramAdmin {
	return &fakeEngramAdmin{importance: make(map[string]float64), protected: make(map[string]bool)}
}

func (f *fakeEngramAdmin) SetImportance(_ context.Context, id string, importance float64) error {
	if id == "missing" {
		return memerr.ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importance[id] = importance
	return nil
}

func (f *fakeEngramAdmin) Protect(_ context.Context, id string, protected bool) error {
	if id == "missing" {
		return memerr.ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protected[id] = protected
	return nil
}

// newTestHandler wires a Handler over in-memory stores only.
func newTestHandler(t *testing.T) http.Handler {
	router, _, _ := newTestEnv(t)
	return router
}

func newTestHandlerWithResolver(t *testing.T) (http.Handler, *resolve.Resolver) {
	router, resolver, _ := newTestEnv(t)
	return router, resolver
}

func newTestEnv(t *testing.T) (http.Handler, *resolve.Resolver, *fakeEngramAdmin) {
	t.Helper()
	logger := zap.NewNop()

	wm := workingmem.NewStore(workingmem.Options{MaxItems: 50, DefaultTTL: time.Minute}, nil, logger)
	t.Cleanup(wm.Close)

	anchorIndex := &memAnchorIndex{anchors: make(map[string]resolve.Anchor), vectors: make(map[string][]float32)}
	resolver := resolve.NewResolver(&embedding.MockProvider{Dim: 8}, anchorIndex, nil, logger)
	t.Cleanup(resolver.Close)

	graphStore := graph.NewMemoryStore()
	provider := &llm.MockProvider{}
	ingestor := ingest.NewIngestor(resolver, graphStore, provider, nil, nil, logger)
	queries := query.NewEngine(graphStore, logger)

	retriever, err := retrieval.NewRetriever(&embedding.MockProvider{Dim: 8},
		memEngramIndex{}, memEngrams{}, graphStore, nil, nil, 0, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	router := retrieval.NewRouter(provider, nil, logger)
	observer := suggest.NewObserver(graphStore, 2)
	admin := newFakeEngramAdmin()

	ap := aperture.New(wm, ingestor, resolver, router, retriever, queries,
		admin, nil, observer, logger)
	h := NewHandler(ap, wm, queries, nil, nil, logger)
	return h.Router(), resolver, admin
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("got status %q, want ok", body["status"])
	}
}

func TestTeachThenConsult(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/teach", map[string]interface{}{
		"graph_id": "g1",
		"triple": map[string]interface{}{
			"subject":   "auth service",
			"predicate": "depends_on",
			"object":    "postgresql",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("teach: got status %d, want 200", resp.StatusCode)
	}
	var teach map[string]interface{}
	decodeJSON(t, resp, &teach)
	if teach["status"] != "ok" {
		t.Fatalf("teach: got %v", teach)
	}
	if teach["triples_created"].(float64) != 1 {
		t.Errorf("got %v triples created, want 1", teach["triples_created"])
	}

	resp = postJSON(t, ts, "/api/memory/consult", map[string]interface{}{
		"graph_id":  "g1",
		"entity":    "entity:auth_service",
		"predicate": "depends_on",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consult: got status %d, want 200", resp.StatusCode)
	}
	var consult struct {
		Closure []struct {
			EntityID string `json:"entity_id"`
		} `json:"closure"`
	}
	decodeJSON(t, resp, &consult)
	if len(consult.Closure) != 1 || consult.Closure[0].EntityID != "entity:postgresql" {
		t.Errorf("got closure %v, want entity:postgresql", consult.Closure)
	}
}

func TestTeachRequiresGraphID(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/teach", map[string]interface{}{"text": "something"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestRememberThenRecall(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/remember", map[string]interface{}{
		"content":    "the deploy window opens friday at noon",
		"importance": 0.8,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("remember: got status %d, want 201", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	if created["id"] == "" {
		t.Fatal("remember returned no id")
	}

	resp = postJSON(t, ts, "/api/memory/recall", map[string]interface{}{
		"query": "deploy window",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recall: got status %d, want 200", resp.StatusCode)
	}
	var recall struct {
		Items []struct {
			ID      string `json:"id"`
			Source  string `json:"source"`
			Content string `json:"content"`
		} `json:"items"`
	}
	decodeJSON(t, resp, &recall)
	if len(recall.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(recall.Items))
	}
	if recall.Items[0].ID != created["id"] || recall.Items[0].Source != "working" {
		t.Errorf("got item %+v", recall.Items[0])
	}
}

func TestAmbiguousTeachReportedInBand(t *testing.T) {
	router, resolver := newTestHandlerWithResolver(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	ctx := context.Background()
	if err := resolver.EnsureAnchor(ctx, "person:john_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}
	if err := resolver.EnsureAnchor(ctx, "person:jon_smith", "john smith", "g1", "person"); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts, "/api/memory/teach", map[string]interface{}{
		"graph_id": "g1",
		"triple": map[string]interface{}{
			"subject":   "john smith",
			"predicate": "reports_to",
			"object":    "jane doe",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200 with in-band ambiguity", resp.StatusCode)
	}
	var body struct {
		Status     string `json:"status"`
		Candidates []struct {
			CanonicalID string `json:"canonical_id"`
		} `json:"candidates"`
	}
	decodeJSON(t, resp, &body)
	if body.Status != "ambiguous" {
		t.Fatalf("got status %q, want ambiguous", body.Status)
	}
	if len(body.Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(body.Candidates))
	}
}

func TestReinforceEngram(t *testing.T) {
	router, _, admin := newTestEnv(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/memory/engram/e1", map[string]interface{}{
		"importance": 0.9,
		"protected":  true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
	admin.mu.Lock()
	if got := admin.importance["e1"]; got != 0.9 {
		t.Errorf("got importance %v, want 0.9", got)
	}
	if !admin.protected["e1"] {
		t.Error("engram e1 not marked protected")
	}
	admin.mu.Unlock()

	resp = postJSON(t, ts, "/api/memory/engram/missing", map[string]interface{}{
		"protected": true,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown engram, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/memory/engram/e1", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d for empty body, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/memory/engram/e1", map[string]interface{}{
		"importance": 1.5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d for out-of-range importance, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStats(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	postJSON(t, ts, "/api/memory/remember", map[string]interface{}{
		"content": "one fact", "importance": 0.5,
	})

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var stats map[string]interface{}
	decodeJSON(t, resp, &stats)
	if stats["working_memory_items"].(float64) != 1 {
		t.Errorf("got %v working memory items, want 1", stats["working_memory_items"])
	}
}
