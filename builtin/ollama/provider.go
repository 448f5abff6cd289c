// Package ollama implements the backend Provider using Ollama's native
// HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// Default values
const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "llama3"
	DefaultTimeout  = 120 * time.Second
)

// Config contains Ollama provider configuration.
type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Provider implements the Provider interface for Ollama.
type Provider struct {
	config Config
	client *http.Client
}

// New creates a new Ollama provider.
func New(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Kind returns the backend kind.
func (p *Provider) Kind() types.Kind {
	return types.KindOllama
}

// --- internal Ollama API types ---

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Generate sends a prompt to /api/generate and returns the response text.
func (p *Provider) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	body := generateRequest{
		Model:  p.config.Model,
		Prompt: req.CombinedPrompt(),
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var resp generateResponse
	if err := p.post(ctx, "/api/generate", body, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

// Embed generates an embedding via /api/embeddings.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embeddingsRequest{
		Model:  p.config.Model,
		Prompt: text,
	}

	var resp embeddingsResponse
	if err := p.post(ctx, "/api/embeddings", body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	// Convert float64 to float32
	embedding := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Probe checks /api/tags. Reachability is the HTTP status alone; the
// installed model names are captured opportunistically and a parse failure
// never turns a reachable backend into an unreachable one.
func (p *Provider) Probe(ctx context.Context) types.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return types.ProbeResult{}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.ProbeResult{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.ProbeResult{}
	}

	result := types.ProbeResult{Reachable: true}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err == nil {
		for _, m := range tags.Models {
			result.Models = append(result.Models, m.Name)
		}
	}

	return result
}

// post marshals the request, sends it, and decodes the JSON response.
func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ensure Provider implements the backend contract
var _ provider.Provider = (*Provider)(nil)
