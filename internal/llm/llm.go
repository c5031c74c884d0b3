// Package llm wraps the completion provider used for triple extraction and
// query classification. Both calls sit behind a circuit breaker: a provider
// outage degrades ingestion and routing quality, it never crashes them.
package llm

import "context"

// Candidate is a raw extracted triple before entity resolution.
type Candidate struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Intent classifies a retrieval query.
type Intent string

const (
	IntentLogic     Intent = "logic"     // graph lookup
	IntentNarrative Intent = "narrative" // vector search
	IntentHybrid    Intent = "hybrid"    // both
)

// Provider is the completion interface consumed by the ingestor and router.
type Provider interface {
	// ExtractTriples pulls (subject, predicate, object) candidates from text.
	ExtractTriples(ctx context.Context, text string) ([]Candidate, error)
	// Classify labels a query as logic or narrative.
	Classify(ctx context.Context, query string) (Intent, error)
}
