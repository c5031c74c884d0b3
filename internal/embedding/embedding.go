// Package embedding generates vector embeddings via an OpenAI-compatible
// HTTP endpoint, with a circuit breaker guarding the external call.
package embedding

import (
	"context"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	APIKey    string        `json:"api_key"`
	Dimension int           `json:"dimension"`
	Timeout   time.Duration `json:"-"`
}

// EmbedOne embeds a single text through any Provider.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
