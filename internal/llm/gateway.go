package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nikhilbhutani/promptdeck/internal/config"
	"github.com/nikhilbhutani/promptdeck/internal/models"
)

// providerFactory builds a provider bound to a specific API key.
type providerFactory func(apiKey string) Provider

type gateway struct {
	providers       map[string]Provider
	factories       map[string]providerFactory
	defaultProvider string
}

func NewGateway(cfg config.LLMConfig) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.DefaultProvider,
		factories: map[string]providerFactory{
			models.ProviderOpenAI: func(key string) Provider {
				return NewOpenAIProvider(key, cfg.OpenAIBaseURL)
			},
			models.ProviderAnthropic: func(key string) Provider {
				return NewAnthropicProvider(key)
			},
		},
	}

	if cfg.OpenAIKey != "" {
		g.providers[models.ProviderOpenAI] = NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	}
	if cfg.AnthropicKey != "" {
		g.providers[models.ProviderAnthropic] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		ollama := NewOllamaProvider(cfg.OllamaURL)
		g.providers[models.ProviderOllama] = ollama
		g.factories[models.ProviderOllama] = func(string) Provider { return ollama }
	}

	return g
}

// newGatewayWithProviders is used by tests to inject fakes.
func newGatewayWithProviders(defaultProvider string, providers ...Provider) *gateway {
	g := &gateway{
		providers:       make(map[string]Provider),
		factories:       make(map[string]providerFactory),
		defaultProvider: defaultProvider,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) ResolveProvider(req ChatRequest) string {
	if req.Provider != "" {
		return req.Provider
	}
	return InferProvider(req.Model, g.defaultProvider)
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	name := g.ResolveProvider(req)

	p, err := g.provider(name, req.APIKey)
	if err != nil {
		return nil, err
	}
	return p.ChatCompletion(ctx, req)
}

func (g *gateway) provider(name, apiKey string) (Provider, error) {
	if apiKey != "" {
		if f, ok := g.factories[name]; ok {
			return f(apiKey), nil
		}
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) ListModels() []ModelInfo {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ModelInfo
	for _, name := range names {
		for _, m := range g.providers[name].Models() {
			out = append(out, ModelInfo{Provider: name, Model: m})
		}
	}
	return out
}

// InferProvider guesses the provider serving model, returning fallback when
// the name does not identify one.
func InferProvider(model, fallback string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return models.ProviderAnthropic
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "chatgpt"):
		return models.ProviderOpenAI
	case strings.Contains(m, ":"), strings.HasPrefix(m, "llama"), strings.HasPrefix(m, "mistral"),
		strings.HasPrefix(m, "qwen"), strings.HasPrefix(m, "gemma"), strings.HasPrefix(m, "phi"):
		return models.ProviderOllama
	default:
		return fallback
	}
}
