package llm

import "context"

// MockProvider returns canned responses for tests.
type MockProvider struct {
	Candidates []Candidate
	Intent     Intent
	Err        error

	ExtractCalls  int
	ClassifyCalls int
}

func (m *MockProvider) ExtractTriples(_ context.Context, _ string) ([]Candidate, error) {
	m.ExtractCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Candidates, nil
}

func (m *MockProvider) Classify(_ context.Context, _ string) (Intent, error) {
	m.ClassifyCalls++
	if m.Err != nil {
		return "", m.Err
	}
	if m.Intent == "" {
		return IntentHybrid, nil
	}
	return m.Intent, nil
}
