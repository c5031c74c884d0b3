package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mimo-os/mimo/internal/memerr"
)

const defaultTimeout = 30 * time.Second

// APIProvider talks to an OpenAI-compatible embeddings endpoint. Every
// failure carries memerr.ErrEmbeddingFailed so callers match the taxonomy
// instead of inspecting transport details.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client

	mu  sync.Mutex
	dim int
}

// NewAPIProvider builds a provider from the embedding config.
func NewAPIProvider(cfg Config) *APIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		dim:      cfg.Dimension,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests one vector per input text. The response must carry exactly
// as many vectors as there were inputs; anything else is a provider fault.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", memerr.ErrEmbeddingFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", memerr.ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memerr.ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s",
			memerr.ErrEmbeddingFailed, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", memerr.ErrEmbeddingFailed, err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts",
			memerr.ErrEmbeddingFailed, len(decoded.Data), len(texts))
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		vectors[i] = d.Embedding
	}
	if len(vectors[0]) > 0 {
		p.mu.Lock()
		p.dim = len(vectors[0])
		p.mu.Unlock()
	}
	return vectors, nil
}

// Dimension reports the vector width: learned from the wire once traffic
// has flowed, the configured value before that.
func (p *APIProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}
