package decay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mimo-os/mimo/internal/engram"
	"go.uber.org/zap"
)

func freshEngram(importance float64) *engram.Engram {
	now := time.Now()
	return &engram.Engram{
		ID:             "e1",
		Content:        "fact",
		Importance:     importance,
		DecayRate:      0.1,
		LastAccessedAt: now,
		InsertedAt:     now,
	}
}

func TestScoreDecaysMonotonically(t *testing.T) {
	s := NewScorer(0.05, 0.05)
	e := freshEngram(0.8)

	t1 := e.LastAccessedAt.Add(24 * time.Hour)
	t2 := e.LastAccessedAt.Add(10 * 24 * time.Hour)

	s1 := s.Score(e, t1)
	s2 := s.Score(e, t2)
	if !(s2 < s1) {
		t.Errorf("score should strictly decrease: score(t1)=%v score(t2)=%v", s1, s2)
	}
	if s1 >= e.Importance {
		t.Errorf("decayed score %v should be below importance %v", s1, e.Importance)
	}
}

func TestAccessFactorMonotonicSaturating(t *testing.T) {
	prev := accessFactor(0)
	for _, n := range []int{1, 2, 5, 10, 50, 500} {
		f := accessFactor(n)
		if f < prev {
			t.Errorf("accessFactor(%d)=%v dropped below previous %v", n, f, prev)
		}
		if f > 1 {
			t.Errorf("accessFactor(%d)=%v exceeds 1", n, f)
		}
		prev = f
	}
}

func TestProtectedNeverForgotten(t *testing.T) {
	s := NewScorer(0.05, 0.05)
	e := freshEngram(0.01)
	e.Protected = true

	// Even far in the future, with negligible importance.
	at := e.LastAccessedAt.Add(365 * 24 * time.Hour)
	if s.ShouldForget(e, at) {
		t.Error("protected engram must never be forgotten")
	}
	if d := s.PredictForgetting(e, at); !math.IsInf(d, 1) {
		t.Errorf("got prediction %v for protected engram, want +Inf", d)
	}
}

func TestShouldForgetCrossesThreshold(t *testing.T) {
	s := NewScorer(0.05, 0.05)
	e := freshEngram(0.6)

	if s.ShouldForget(e, e.LastAccessedAt.Add(time.Hour)) {
		t.Error("fresh engram should not be forgotten")
	}
	if !s.ShouldForget(e, e.LastAccessedAt.Add(200*24*time.Hour)) {
		t.Error("long-stale engram should be forgotten")
	}
}

func TestPredictForgetting(t *testing.T) {
	s := NewScorer(0.05, 0.05)
	e := freshEngram(0.6)

	days := s.PredictForgetting(e, e.LastAccessedAt)
	if days <= 0 || math.IsInf(days, 1) {
		t.Fatalf("got %v days, want a finite positive horizon", days)
	}

	// Scoring exactly at the predicted horizon lands on the threshold.
	at := e.LastAccessedAt.Add(time.Duration(days * 24 * float64(time.Hour)))
	score := s.Score(e, at)
	if math.Abs(score-s.Threshold) > 1e-6 {
		t.Errorf("score at horizon = %v, want ≈ threshold %v", score, s.Threshold)
	}

	// Already below: horizon is zero.
	if d := s.PredictForgetting(e, e.LastAccessedAt.Add(1000*24*time.Hour)); d != 0 {
		t.Errorf("got %v, want 0 for already-forgettable engram", d)
	}
}

type fakeSource struct {
	candidates []*engram.Engram
	deleted    [][]string
}

type fakePruner struct {
	removed [][]string
}

func (f *fakePruner) Remove(_ context.Context, ids []string) error {
	f.removed = append(f.removed, ids)
	return nil
}

func (f *fakeSource) ListCandidates(_ context.Context, limit int) ([]*engram.Engram, error) {
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeSource) Delete(_ context.Context, ids []string) (int, error) {
	f.deleted = append(f.deleted, ids)
	return len(ids), nil
}

func TestSchedulerRunOnce(t *testing.T) {
	stale := freshEngram(0.5)
	stale.ID = "stale"
	stale.LastAccessedAt = time.Now().Add(-300 * 24 * time.Hour)
	fresh := freshEngram(0.9)
	fresh.ID = "fresh"

	src := &fakeSource{candidates: []*engram.Engram{stale, fresh}}
	pruner := &fakePruner{}
	sched := NewScheduler(src, NewScorer(0.05, 0.05), pruner,
		SchedulerOptions{Interval: time.Hour, BatchSize: 10}, nil, zap.NewNop())

	evaluated, forgotten, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evaluated != 2 {
		t.Errorf("evaluated %d, want 2", evaluated)
	}
	if forgotten != 1 {
		t.Errorf("forgot %d, want 1", forgotten)
	}
	if len(src.deleted) != 1 || src.deleted[0][0] != "stale" {
		t.Errorf("deleted %v, want [stale]", src.deleted)
	}
	// The forgotten id is pruned from the recency index in the same tick.
	if len(pruner.removed) != 1 || pruner.removed[0][0] != "stale" {
		t.Errorf("pruned %v from recency, want [stale]", pruner.removed)
	}
}

func TestSchedulerDryRun(t *testing.T) {
	stale := freshEngram(0.5)
	stale.LastAccessedAt = time.Now().Add(-300 * 24 * time.Hour)

	src := &fakeSource{candidates: []*engram.Engram{stale}}
	pruner := &fakePruner{}
	sched := NewScheduler(src, NewScorer(0.05, 0.05), pruner,
		SchedulerOptions{Interval: time.Hour, BatchSize: 10, DryRun: true}, nil, zap.NewNop())

	_, forgotten, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forgotten != 1 {
		t.Errorf("dry run should report 1 would-be deletion, got %d", forgotten)
	}
	if len(src.deleted) != 0 {
		t.Errorf("dry run must not delete, but deleted %v", src.deleted)
	}
	if len(pruner.removed) != 0 {
		t.Errorf("dry run must not prune recency, but removed %v", pruner.removed)
	}
}
