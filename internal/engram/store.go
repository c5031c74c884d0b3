package engram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mimo-os/mimo/internal/memerr"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool holding the engrams table.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a Store with a pgx connection pool.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Create inserts a new engram. The ID and timestamps are filled in if unset.
func (s *Store) Create(ctx context.Context, e *Engram) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now()
	if e.InsertedAt.IsZero() {
		e.InsertedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = now
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO engrams (id, content, category, importance, access_count,
			last_accessed_at, decay_rate, protected, source_item_id, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Content, e.Category, e.Importance, e.AccessCount,
		e.LastAccessedAt, e.DecayRate, e.Protected, nullable(e.SourceItemID), e.InsertedAt,
	)
	if err != nil {
		return fmt.Errorf("create engram: %w", err)
	}
	return nil
}

// Get returns one engram by id.
func (s *Store) Get(ctx context.Context, id string) (*Engram, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, content, category, importance, access_count,
		       last_accessed_at, decay_rate, protected,
		       COALESCE(source_item_id, ''), inserted_at
		FROM engrams WHERE id = $1`, id)

	var e Engram
	err := row.Scan(&e.ID, &e.Content, &e.Category, &e.Importance, &e.AccessCount,
		&e.LastAccessedAt, &e.DecayRate, &e.Protected, &e.SourceItemID, &e.InsertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engram: %w", err)
	}
	return &e, nil
}

// GetBatch returns the engrams for the given ids, skipping any missing.
func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*Engram, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, content, category, importance, access_count,
		       last_accessed_at, decay_rate, protected,
		       COALESCE(source_item_id, ''), inserted_at
		FROM engrams WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get engrams: %w", err)
	}
	defer rows.Close()

	var out []*Engram
	for rows.Next() {
		var e Engram
		if err := rows.Scan(&e.ID, &e.Content, &e.Category, &e.Importance, &e.AccessCount,
			&e.LastAccessedAt, &e.DecayRate, &e.Protected, &e.SourceItemID, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan engram: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListCandidates returns up to limit unprotected engrams, least recently
// accessed first, for the forgetting scheduler to evaluate.
func (s *Store) ListCandidates(ctx context.Context, limit int) ([]*Engram, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, content, category, importance, access_count,
		       last_accessed_at, decay_rate, protected,
		       COALESCE(source_item_id, ''), inserted_at
		FROM engrams
		WHERE NOT protected
		ORDER BY last_accessed_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []*Engram
	for rows.Next() {
		var e Engram
		if err := rows.Scan(&e.ID, &e.Content, &e.Category, &e.Importance, &e.AccessCount,
			&e.LastAccessedAt, &e.DecayRate, &e.Protected, &e.SourceItemID, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes the given engrams and returns how many rows went away.
// Protected engrams are never deleted, regardless of what the caller passes.
func (s *Store) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM engrams WHERE id = ANY($1) AND NOT protected`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete engrams: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FlushAccess applies buffered access events in a single transaction.
func (s *Store) FlushAccess(ctx context.Context, events []AccessEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Coalesce multiple touches of the same engram into one update.
	type agg struct {
		count int
		last  time.Time
	}
	byID := make(map[string]*agg, len(events))
	for _, ev := range events {
		a := byID[ev.EngramID]
		if a == nil {
			a = &agg{}
			byID[ev.EngramID] = a
		}
		a.count++
		if ev.At.After(a.last) {
			a.last = ev.At
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin access flush: %w", err)
	}
	defer tx.Rollback(ctx)

	for id, a := range byID {
		if _, err := tx.Exec(ctx, `
			UPDATE engrams
			SET access_count = access_count + $2,
			    last_accessed_at = GREATEST(last_accessed_at, $3)
			WHERE id = $1`, id, a.count, a.last); err != nil {
			return fmt.Errorf("flush access %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

// SetImportance updates an engram's importance from the feedback path.
func (s *Store) SetImportance(ctx context.Context, id string, importance float64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE engrams SET importance = $2 WHERE id = $1`, id, importance)
	if err != nil {
		return fmt.Errorf("set importance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memerr.ErrNotFound
	}
	return nil
}

// Protect marks an engram as exempt from forgetting.
func (s *Store) Protect(ctx context.Context, id string, protected bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE engrams SET protected = $2 WHERE id = $1`, id, protected)
	if err != nil {
		return fmt.Errorf("protect engram: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memerr.ErrNotFound
	}
	return nil
}

// CountByCategory returns engram counts grouped by category.
func (s *Store) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT category, COUNT(*) FROM engrams GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
