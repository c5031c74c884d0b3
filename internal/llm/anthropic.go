package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const extractSystem = `Extract factual (subject, predicate, object) triples from the text.
Respond with ONLY a JSON array, no prose. Each element:
{"subject": "...", "predicate": "...", "object": "..."}
Predicates are short lowercase verb phrases like "depends_on", "reports_to",
"contains". Skip opinions and questions. Return [] when nothing factual is stated.`

const classifySystem = `Classify the user query for a memory system.
Respond with exactly one word:
"logic" for structured relationship questions (who reports to X, what depends on Y),
"narrative" for open-ended recall (what happened, tell me about).`

// AnthropicProvider implements Provider against the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropic creates an Anthropic-backed provider.
func NewAnthropic(apiKey, model string, logger *zap.Logger) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

// ExtractTriples asks the model for candidate triples in the given text.
func (p *AnthropicProvider) ExtractTriples(ctx context.Context, text string) ([]Candidate, error) {
	raw, err := p.complete(ctx, extractSystem, text, 1024)
	if err != nil {
		return nil, fmt.Errorf("extract triples: %w", err)
	}

	raw = stripFences(raw)
	var candidates []Candidate
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, fmt.Errorf("extract triples: parse response: %w", err)
	}

	// Drop incomplete candidates rather than failing the batch.
	out := candidates[:0]
	for _, c := range candidates {
		if c.Subject != "" && c.Predicate != "" && c.Object != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Classify labels a query as logic or narrative.
func (p *AnthropicProvider) Classify(ctx context.Context, query string) (Intent, error) {
	raw, err := p.complete(ctx, classifySystem, query, 8)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "logic":
		return IntentLogic, nil
	case "narrative":
		return IntentNarrative, nil
	default:
		p.logger.Debug("unexpected classify response", zap.String("raw", raw))
		return IntentHybrid, nil
	}
}

func (p *AnthropicProvider) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// stripFences removes a markdown code fence if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
