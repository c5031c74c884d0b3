package retrieval

import (
	"context"
	"regexp"

	"github.com/mimo-os/mimo/internal/llm"
	"github.com/mimo-os/mimo/internal/telemetry"
	"go.uber.org/zap"
)

// Mode selects which retrieval legs run.
type Mode string

const (
	ModeLogic     Mode = "logic"     // graph only
	ModeNarrative Mode = "narrative" // vector and recency only
	ModeHybrid    Mode = "hybrid"    // everything
)

// Fast-path patterns. Logic queries ask about structured relationships;
// narrative queries ask for open-ended recall.
var (
	logicRe = regexp.MustCompile(`(?i)\b(who|what|which)\b.*\b(reports? to|manages?|depends? on|` +
		`contains?|belongs? to|owns?|owned by|connected to|related to|path (?:from|between))\b`)
	narrativeRe = regexp.MustCompile(`(?i)\b(what happened|tell me about|remember when|describe|` +
		`summarize|recall|remind me)\b`)
)

// Router picks a retrieval mode per query. The regex fast path decides most
// queries for free; only inconclusive ones pay for a classification call,
// and that call degrades to hybrid on any failure.
type Router struct {
	classifier llm.Provider
	emit       telemetry.Emitter
	logger     *zap.Logger
}

// NewRouter creates a router. classifier may be nil, in which case
// inconclusive queries go hybrid.
func NewRouter(classifier llm.Provider, emit telemetry.Emitter, logger *zap.Logger) *Router {
	if emit == nil {
		emit = telemetry.Nop{}
	}
	return &Router{classifier: classifier, emit: emit, logger: logger}
}

// Route classifies the query. Never returns an error: routing uncertainty
// resolves to hybrid.
func (r *Router) Route(ctx context.Context, query string) Mode {
	mode, path := r.route(ctx, query)
	r.emit.Emit(telemetry.EventRouted, nil, map[string]string{
		"mode": string(mode), "path": path})
	return mode
}

func (r *Router) route(ctx context.Context, query string) (Mode, string) {
	logic := logicRe.MatchString(query)
	narrative := narrativeRe.MatchString(query)
	switch {
	case logic && !narrative:
		return ModeLogic, "fast"
	case narrative && !logic:
		return ModeNarrative, "fast"
	case logic && narrative:
		return ModeHybrid, "fast"
	}

	if r.classifier == nil {
		return ModeHybrid, "default"
	}
	intent, err := r.classifier.Classify(ctx, query)
	if err != nil {
		r.logger.Debug("classify fallback to hybrid", zap.Error(err))
		return ModeHybrid, "degraded"
	}
	switch intent {
	case llm.IntentLogic:
		return ModeLogic, "llm"
	case llm.IntentNarrative:
		return ModeNarrative, "llm"
	default:
		return ModeHybrid, "llm"
	}
}
