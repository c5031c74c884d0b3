package decay

import (
	"context"
	"sync"
	"time"

	"github.com/mimo-os/mimo/internal/engram"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// CandidateSource supplies forgetting candidates and applies deletions.
// Implemented by *engram.Store.
type CandidateSource interface {
	ListCandidates(ctx context.Context, limit int) ([]*engram.Engram, error)
	Delete(ctx context.Context, ids []string) (int, error)
}

// RecencyPruner drops forgotten ids from the recency index so the retrieval
// leg stops ranking them. Implemented by *engram.RedisRecency.
type RecencyPruner interface {
	Remove(ctx context.Context, ids []string) error
}

// SchedulerOptions tunes the forgetting scheduler.
type SchedulerOptions struct {
	Interval  time.Duration
	BatchSize int
	// DryRun computes deletions without mutating state, for validation
	// and telemetry.
	DryRun bool
}

// Scheduler periodically evaluates decay scores and prunes engrams that
// fell below the forget threshold. A failing tick never stops the loop.
type Scheduler struct {
	source  CandidateSource
	scorer  *Scorer
	recency RecencyPruner
	opts    SchedulerOptions
	emit    telemetry.Emitter
	logger  *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler. recency may be nil when no recency
// index is running. Call Start to begin ticking.
func NewScheduler(source CandidateSource, scorer *Scorer, recency RecencyPruner,
	opts SchedulerOptions, emit telemetry.Emitter, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Scheduler{
		source:  source,
		scorer:  scorer,
		recency: recency,
		opts:    opts,
		emit:    emit,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Close stops the loop. An in-flight tick finishes first.
func (s *Scheduler) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			evaluated, forgotten, err := s.RunOnce(context.Background())
			if err != nil {
				s.logger.Warn("forgetting tick failed", zap.Error(err))
				continue
			}
			if forgotten > 0 || s.opts.DryRun {
				s.logger.Info("forgetting tick",
					zap.Int("evaluated", evaluated),
					zap.Int("forgotten", forgotten),
					zap.Bool("dry_run", s.opts.DryRun))
			}
		}
	}
}

// RunOnce evaluates one batch of candidates and returns how many were
// evaluated and how many were forgotten (or would be, in dry-run mode).
func (s *Scheduler) RunOnce(ctx context.Context) (evaluated, forgotten int, err error) {
	candidates, err := s.source.ListCandidates(ctx, s.opts.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now()
	var doomed []string
	for _, e := range candidates {
		if s.scorer.ShouldForget(e, now) {
			doomed = append(doomed, e.ID)
		}
	}

	if s.opts.DryRun {
		s.emit.Emit(telemetry.EventDecayed,
			map[string]float64{"evaluated": float64(len(candidates)), "forgotten": float64(len(doomed))},
			map[string]string{"dry_run": "true"})
		return len(candidates), len(doomed), nil
	}

	deleted := 0
	if len(doomed) > 0 {
		deleted, err = s.source.Delete(ctx, doomed)
		if err != nil {
			return len(candidates), 0, err
		}
		// Deleted ids must leave the recency index too, or the retrieval
		// recency leg keeps ranking dead entries.
		if s.recency != nil {
			if err := s.recency.Remove(ctx, doomed); err != nil {
				s.logger.Warn("recency prune failed", zap.Error(err))
			}
		}
	}
	s.emit.Emit(telemetry.EventDecayed,
		map[string]float64{"evaluated": float64(len(candidates)), "forgotten": float64(deleted)},
		nil)
	return len(candidates), deleted, nil
}
