package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/mimo-os/mimo/internal/memerr"
	"go.uber.org/zap"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"[]":                        "[]",
		"```json\n[{\"a\":1}]\n```": "[{\"a\":1}]",
		"```\n[]\n```":              "[]",
		"  [1,2]  ":                 "[1,2]",
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGuardedMapsExtractionFailure(t *testing.T) {
	mock := &MockProvider{Err: errors.New("upstream 500")}
	g := NewGuarded(mock, zap.NewNop())

	_, err := g.ExtractTriples(context.Background(), "some text")
	if !errors.Is(err, memerr.ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}
}

func TestGuardedOpensAfterConsecutiveFailures(t *testing.T) {
	mock := &MockProvider{Err: errors.New("upstream 500")}
	g := NewGuarded(mock, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		g.ExtractTriples(ctx, "text")
	}
	_, err := g.ExtractTriples(ctx, "text")
	if !errors.Is(err, memerr.ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen after 5 failures", err)
	}
	if mock.ExtractCalls != 5 {
		t.Errorf("provider called %d times, want 5 (open breaker short-circuits)", mock.ExtractCalls)
	}
}
