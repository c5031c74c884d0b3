package engram

import (
	"context"
	"sync"
	"time"

	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// AccessEvent records one read of an engram.
type AccessEvent struct {
	EngramID string
	At       time.Time
}

// AccessSink receives flushed access batches. Implemented by *Store.
type AccessSink interface {
	FlushAccess(ctx context.Context, events []AccessEvent) error
}

// RecencyIndex mirrors last-access timestamps into a fast index that the
// hybrid retriever reads for its recency sub-query. Implemented by
// *RedisRecency; nil-able.
type RecencyIndex interface {
	Touch(ctx context.Context, id string, at time.Time) error
}

// Tracker buffers access events in memory and flushes them on a timer or
// when the buffer reaches its threshold. Deliberately decoupled from the
// read path: Record never touches the database, so hot reads stay cheap.
type Tracker struct {
	sink    AccessSink
	recency RecencyIndex
	emit    telemetry.Emitter
	logger  *zap.Logger

	mu     sync.Mutex
	buf    []AccessEvent
	thresh int

	interval time.Duration
	kick     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a Tracker and starts its flush loop. recency may be nil.
func NewTracker(sink AccessSink, recency RecencyIndex, interval time.Duration,
	threshold int, emit telemetry.Emitter, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if threshold <= 0 {
		threshold = 256
	}
	if emit == nil {
		emit = telemetry.Nop{}
	}
	t := &Tracker{
		sink:     sink,
		recency:  recency,
		emit:     emit,
		logger:   logger,
		thresh:   threshold,
		interval: interval,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Record buffers one access event. Never blocks on I/O.
func (t *Tracker) Record(engramID string) {
	t.mu.Lock()
	t.buf = append(t.buf, AccessEvent{EngramID: engramID, At: time.Now()})
	full := len(t.buf) >= t.thresh
	t.mu.Unlock()

	if full {
		select {
		case t.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered, unflushed events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Flush drains the buffer into the sink and recency index. Flush failures
// are logged and the batch is dropped rather than retried; access counts
// are a lossy signal by design.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.buf
	t.buf = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := t.sink.FlushAccess(ctx, batch); err != nil {
		t.logger.Warn("access flush failed", zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	if t.recency != nil {
		for _, ev := range batch {
			if err := t.recency.Touch(ctx, ev.EngramID, ev.At); err != nil {
				t.logger.Warn("recency touch failed", zap.String("id", ev.EngramID), zap.Error(err))
				break
			}
		}
	}
	t.emit.Emit(telemetry.EventAccessFlushed,
		map[string]float64{"events": float64(len(batch))}, nil)
}

// Close flushes any remaining events and stops the loop.
func (t *Tracker) Close() {
	close(t.done)
	t.wg.Wait()
	t.Flush(context.Background())
}

func (t *Tracker) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.kick:
			t.Flush(context.Background())
		}
	}
}
