//go:build integration

package engram

import (
	"context"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres spins up a disposable Postgres and returns a migrated Store.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("mimo"),
		tcpostgres.WithUsername("mimo"),
		tcpostgres.WithPassword("mimo"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}

	store, err := NewStore(dsn, testLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	e := &Engram{
		Content:    "the deploy pipeline runs on merge to main",
		Category:   "fact",
		Importance: 0.7,
		DecayRate:  0.05,
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != e.Content {
		t.Errorf("got content %q, want %q", got.Content, e.Content)
	}
	if got.Importance != 0.7 {
		t.Errorf("got importance %v, want 0.7", got.Importance)
	}
}

func TestStoreFlushAccessAndCandidates(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	stale := &Engram{Content: "stale", Category: "fact", Importance: 0.1,
		DecayRate: 0.05, LastAccessedAt: time.Now().Add(-48 * time.Hour)}
	hot := &Engram{Content: "hot", Category: "fact", Importance: 0.9, DecayRate: 0.05}
	kept := &Engram{Content: "kept", Category: "fact", Importance: 0.1,
		DecayRate: 0.05, Protected: true}
	for _, e := range []*Engram{stale, hot, kept} {
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := store.FlushAccess(ctx, []AccessEvent{
		{EngramID: hot.ID, At: time.Now()},
		{EngramID: hot.ID, At: time.Now()},
	}); err != nil {
		t.Fatalf("flush access: %v", err)
	}
	got, err := store.Get(ctx, hot.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("got access count %d, want 2", got.AccessCount)
	}

	cands, err := store.ListCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	for _, c := range cands {
		if c.Protected {
			t.Errorf("protected engram %s offered as forgetting candidate", c.ID)
		}
	}
	if len(cands) == 0 || cands[0].ID != stale.ID {
		t.Errorf("least recently accessed engram should come first")
	}

	// Protected rows survive even an explicit delete request.
	n, err := store.Delete(ctx, []string{stale.ID, kept.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	if _, err := store.Get(ctx, kept.ID); err != nil {
		t.Errorf("protected engram should survive: %v", err)
	}
}
