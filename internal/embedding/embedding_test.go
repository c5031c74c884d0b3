package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mimo-os/mimo/internal/memerr"
	"go.uber.org/zap"
)

func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIProviderEmbed(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	})

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model", Dimension: 128})

	if p.Dimension() != 128 {
		t.Errorf("got dimension %d before traffic, want configured 128", p.Dimension())
	}

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != 3 {
		t.Fatalf("got %d vectors of width %d, want 1x3", len(vectors), len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d after traffic, want learned 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model"})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderErrorsCarryTaxonomy(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	})

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model"})
	_, err := p.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, memerr.ErrEmbeddingFailed) {
		t.Errorf("got %v for HTTP 500, want ErrEmbeddingFailed", err)
	}

	// Unreachable endpoint fails the same way.
	down := NewAPIProvider(Config{Endpoint: "http://127.0.0.1:1", Model: "test-model"})
	if _, err := down.Embed(context.Background(), []string{"hello"}); !errors.Is(err, memerr.ErrEmbeddingFailed) {
		t.Errorf("got %v for unreachable endpoint, want ErrEmbeddingFailed", err)
	}
}

func TestAPIProviderRejectsCountMismatch(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1]}]}`)
	})

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model"})
	_, err := p.Embed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, memerr.ErrEmbeddingFailed) {
		t.Errorf("got %v for short response, want ErrEmbeddingFailed", err)
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	m := &MockProvider{Dim: 8}
	a, err := m.Embed(context.Background(), []string{"auth service"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := m.Embed(context.Background(), []string{"auth service"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("mock embeddings for the same text should be identical")
		}
	}
}

func TestGuardedBreakerOpens(t *testing.T) {
	failing := &MockProvider{Err: errors.New("upstream down")}
	g := NewGuarded(failing, zap.NewNop())

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = g.Embed(context.Background(), []string{"x"})
	}
	if !errors.Is(lastErr, memerr.ErrCircuitOpen) {
		t.Errorf("got %v after repeated failures, want ErrCircuitOpen", lastErr)
	}

	// Earlier failures are wrapped as embedding failures, not breaker opens.
	g2 := NewGuarded(failing, zap.NewNop())
	_, err := g2.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, memerr.ErrEmbeddingFailed) {
		t.Errorf("got %v, want ErrEmbeddingFailed", err)
	}
}
