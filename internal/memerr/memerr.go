// Package memerr defines the error taxonomy shared across the memory core.
//
// Background workers catch and log these per item; foreground callers get
// them back as structured results. AmbiguousError in particular is not a
// failure: it carries the candidate list so the caller can decide.
package memerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a lookup missed (expired, evicted, or never stored).
	ErrNotFound = errors.New("not found")

	// ErrExtractionFailed indicates the LLM triple-extraction call failed.
	// The whole ingestion unit is aborted; no partial triples are written.
	ErrExtractionFailed = errors.New("triple extraction failed")

	// ErrEmbeddingFailed indicates the embedding provider call failed.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrInferenceTimeout indicates an inference pass exceeded its transaction
	// timeout. The partial pass is discarded; the next debounce retries.
	ErrInferenceTimeout = errors.New("inference pass timed out")

	// ErrCircuitOpen indicates an external dependency is degraded and the
	// circuit breaker rejected the call. Callers fall back, never crash.
	ErrCircuitOpen = errors.New("circuit open")
)

// Candidate is one possible resolution of an entity mention.
type Candidate struct {
	CanonicalID string  `json:"canonical_id"`
	Surface     string  `json:"surface"`
	Score       float64 `json:"score"`
}

// AmbiguousError reports that a mention matched multiple canonical entities
// too closely to pick one. The caller decides: pick, merge, or force-create.
type AmbiguousError struct {
	Surface    string      `json:"surface"`
	Candidates []Candidate `json:"candidates"`
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous resolution for %q: %d candidates", e.Surface, len(e.Candidates))
}

// IsAmbiguous reports whether err is an AmbiguousError and returns it.
func IsAmbiguous(err error) (*AmbiguousError, bool) {
	var amb *AmbiguousError
	if errors.As(err, &amb) {
		return amb, true
	}
	return nil, false
}
