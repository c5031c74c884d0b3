package graph

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNeo4jPingSurfacesUnreachableServer(t *testing.T) {
	// The driver connects lazily, so construction succeeds even when the
	// server is unreachable. Ping is what surfaces connectivity at boot.
	store, err := NewNeo4jStore("bolt://127.0.0.1:1", "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("constructor should not dial: %v", err)
	}
	defer store.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err == nil {
		t.Fatal("expected ping to fail against an unreachable server")
	}
}
