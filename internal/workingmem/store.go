// Package workingmem implements the bounded, TTL'd short-term memory cache.
//
// The store is the single owner of its items: callers only ever see copies,
// and every mutation goes through the store's mutex. Items leave the store
// one of three ways: TTL expiry, LRU eviction, or consolidation removal.
package workingmem

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mimo-os/mimo/internal/memerr"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// Item is a short-lived working memory record.
type Item struct {
	ID                     string        `json:"id"`
	Content                string        `json:"content"`
	Importance             float64       `json:"importance"`
	TTL                    time.Duration `json:"ttl"`
	CreatedAt              time.Time     `json:"created_at"`
	SessionID              string        `json:"session_id,omitempty"`
	ConsolidationCandidate bool          `json:"consolidation_candidate"`
	AccessCount            int           `json:"access_count"`
	LastAccessed           time.Time     `json:"last_accessed"`
}

func (it *Item) expired(now time.Time) bool {
	return it.TTL > 0 && now.Sub(it.CreatedAt) > it.TTL
}

type entry struct {
	item *Item
	elem *list.Element // position in the LRU list
}

// Store is a capacity-bounded LRU cache with per-item TTL.
type Store struct {
	mu    sync.Mutex
	items map[string]*entry
	lru   *list.List // front = most recently accessed

	maxItems   int
	defaultTTL time.Duration

	emit   telemetry.Emitter
	logger *zap.Logger

	sweepEvery time.Duration
	done       chan struct{}
	wg         sync.WaitGroup
}

// Options tunes a Store.
type Options struct {
	MaxItems        int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// NewStore creates a Store and starts its TTL sweeper.
func NewStore(opts Options, emit telemetry.Emitter, logger *zap.Logger) *Store {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 200
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 30 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Second
	}
	if emit == nil {
		emit = telemetry.Nop{}
	}
	s := &Store{
		items:      make(map[string]*entry),
		lru:        list.New(),
		maxItems:   opts.MaxItems,
		defaultTTL: opts.DefaultTTL,
		emit:       emit,
		logger:     logger,
		sweepEvery: opts.CleanupInterval,
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Store inserts a new item and returns its id. Inserting past capacity
// evicts the least-recently-accessed item, never the one being inserted.
func (s *Store) Store(content string, importance float64, ttl time.Duration, sessionID string) string {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	it := &Item{
		ID:           uuid.New().String(),
		Content:      content,
		Importance:   clamp01(importance),
		TTL:          ttl,
		CreatedAt:    now,
		SessionID:    sessionID,
		LastAccessed: now,
	}

	s.mu.Lock()
	for len(s.items) >= s.maxItems {
		s.evictOldestLocked()
	}
	e := &entry{item: it}
	e.elem = s.lru.PushFront(e)
	s.items[it.ID] = e
	s.mu.Unlock()

	s.emit.Emit(telemetry.EventStored,
		map[string]float64{"importance": it.Importance},
		map[string]string{"id": it.ID, "session_id": sessionID})
	return it.ID
}

// Get returns a copy of the item and refreshes its access recency.
// An item past its TTL is removed and reported as not found.
func (s *Store) Get(id string) (Item, error) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return Item{}, memerr.ErrNotFound
	}
	if e.item.expired(now) {
		s.removeLocked(e)
		s.mu.Unlock()
		s.emit.Emit(telemetry.EventExpired, nil, map[string]string{"id": id})
		return Item{}, memerr.ErrNotFound
	}
	e.item.AccessCount++
	e.item.LastAccessed = now
	s.lru.MoveToFront(e.elem)
	cp := *e.item
	s.mu.Unlock()

	s.emit.Emit(telemetry.EventRetrieved, nil, map[string]string{"id": id})
	return cp, nil
}

// SearchHit pairs an item with its keyword relevance score.
type SearchHit struct {
	Item  Item
	Score float64
}

// Search returns up to limit live items whose content matches the query,
// best match first. Matching is tokenized keyword overlap, which tolerates
// word order and partial phrasing; exact substring hits rank highest.
func (s *Store) Search(text string, limit int) []SearchHit {
	if limit <= 0 {
		limit = 10
	}
	terms := tokens(text)
	now := time.Now()

	s.mu.Lock()
	hits := make([]SearchHit, 0, limit)
	for _, e := range s.items {
		if e.item.expired(now) {
			continue
		}
		score := relevance(terms, e.item.Content)
		exact := strings.Contains(strings.ToLower(e.item.Content), strings.ToLower(text))
		if score <= 0 && !exact {
			continue
		}
		if exact {
			score = 1.0
		}
		hits = append(hits, SearchHit{Item: *e.item, Score: score})
	}
	s.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// MarkForConsolidation flags an item as a consolidation candidate.
func (s *Store) MarkForConsolidation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return memerr.ErrNotFound
	}
	e.item.ConsolidationCandidate = true
	return nil
}

// Scan calls fn with a copy of every live item. Used by the consolidator.
func (s *Store) Scan(fn func(Item)) {
	now := time.Now()
	s.mu.Lock()
	snapshot := make([]Item, 0, len(s.items))
	for _, e := range s.items {
		if !e.item.expired(now) {
			snapshot = append(snapshot, *e.item)
		}
	}
	s.mu.Unlock()

	for _, it := range snapshot {
		fn(it)
	}
}

// Remove deletes an item, reporting whether it existed. The consolidator
// calls this after a successful promotion, which is what makes re-scanning
// an already-consolidated item a no-op.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.items[id]
	if ok {
		s.removeLocked(e)
	}
	s.mu.Unlock()
	return ok
}

// Len returns the number of items currently held, including any not yet
// swept past-TTL items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops the TTL sweeper.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

// Sweep removes all items past their TTL and returns how many were removed.
// Called by the sweeper loop and exported for tests and manual maintenance.
func (s *Store) Sweep() int {
	now := time.Now()
	var expired []string

	s.mu.Lock()
	for id, e := range s.items {
		if e.item.expired(now) {
			expired = append(expired, id)
			s.removeLocked(e)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.emit.Emit(telemetry.EventExpired, nil, map[string]string{"id": id})
	}
	return len(expired)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && s.logger != nil {
				s.logger.Debug("working memory sweep", zap.Int("expired", n))
			}
		}
	}
}

// evictOldestLocked drops the least-recently-accessed item.
func (s *Store) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	id := e.item.ID
	s.removeLocked(e)
	s.emit.Emit(telemetry.EventEvicted, nil, map[string]string{"id": id})
}

func (s *Store) removeLocked(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.items, e.item.ID)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
