package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockProvider deterministically hashes text into unit vectors. Identical
// texts embed identically, so resolver idempotence is testable without a
// live endpoint. A Vectors override pins exact embeddings per text.
type MockProvider struct {
	Dim     int
	Vectors map[string][]float32 // optional per-text override
	Err     error                // force a failure when set
}

// Embed returns deterministic pseudo-embeddings.
func (m *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	dim := m.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(t, dim)
	}
	return out, nil
}

// Dimension returns the configured dimension.
func (m *MockProvider) Dimension() int {
	if m.Dim <= 0 {
		return 8
	}
	return m.Dim
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var norm float64
	for i := 0; i < dim; i++ {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		v := float64(h.Sum32()%1000)/500.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
