// Package openaicompat implements the backend Provider for local servers
// that expose an OpenAI-compatible HTTP API (LM Studio, Jan, GPT4All).
package openaicompat

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// DefaultTimeout for generation and embedding calls.
const DefaultTimeout = 120 * time.Second

// Local OpenAI-compatible servers ignore the key but the client requires
// a non-empty one.
const placeholderKey = "not-needed"

// Config contains OpenAI-compatible provider configuration.
type Config struct {
	Kind    types.Kind
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Provider implements the Provider interface for OpenAI-compatible servers.
type Provider struct {
	config Config
	client *openai.Client
}

// New creates a provider for the given kind. The kind must be one of the
// OpenAI-compatible backends in the registry.
func New(cfg Config) (*Provider, error) {
	info, ok := provider.Lookup(cfg.Kind)
	if !ok || info.Transport != provider.TransportOpenAI {
		return nil, fmt.Errorf("%w: %q is not an OpenAI-compatible backend", types.ErrInvalidConfig, cfg.Kind)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = info.DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = info.DefaultModel
	}
	if cfg.APIKey == "" {
		cfg.APIKey = placeholderKey
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Provider{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Kind returns the backend kind.
func (p *Provider) Kind() types.Kind {
	return p.config.Kind
}

// Generate sends a chat completion request and returns the first choice.
func (p *Provider) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", p.config.Kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s generate: empty response", p.config.Kind)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed generates an embedding via the embeddings endpoint.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.config.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", p.config.Kind, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s embed: empty response", p.config.Kind)
	}
	return resp.Data[0].Embedding, nil
}

// Probe lists the server's models. A successful listing marks the backend
// reachable and captures the model identifiers.
func (p *Provider) Probe(ctx context.Context) types.ProbeResult {
	models, err := p.client.ListModels(ctx)
	if err != nil {
		return types.ProbeResult{}
	}

	result := types.ProbeResult{Reachable: true}
	for _, m := range models.Models {
		result.Models = append(result.Models, m.ID)
	}
	return result
}

var _ provider.Provider = (*Provider)(nil)
