package workingmem

import (
	"strings"
	"unicode"
)

// Substring hits count less than whole-token hits, so "pipe" in the query
// does not rank a "pipeline" item as highly as the full token would.
const partialWeight = 0.7

// relevance scores how well an item's content answers a tokenized query.
// Coverage of the query terms dominates; a focus term keeps short on-topic
// items ahead of long ones that happen to mention everything.
func relevance(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	content = strings.ToLower(content)
	contentTerms := make(map[string]struct{})
	for _, t := range tokens(content) {
		contentTerms[t] = struct{}{}
	}

	hits := 0
	weighted := 0.0
	for _, term := range terms {
		if _, ok := contentTerms[term]; ok {
			hits++
			weighted++
		} else if strings.Contains(content, term) {
			hits++
			weighted += partialWeight
		}
	}
	if hits == 0 {
		return 0
	}

	coverage := weighted / float64(len(terms))
	union := len(terms) + len(contentTerms) - hits
	if union < 1 {
		union = 1
	}
	focus := float64(hits) / float64(union)
	return 0.6*coverage + 0.4*focus
}

// tokens lowercases text and splits it into search terms, dropping
// single-character fragments.
func tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
