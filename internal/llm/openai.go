package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/pkg/tokenizer"
)

// OpenAIProvider talks to OpenAI or any server exposing the same
// chat-completions API, such as Ollama.
type OpenAIProvider struct {
	client *openai.Client
	name   string
	models []string
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		name:   models.ProviderOpenAI,
		models: []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
	}
}

// NewOllamaProvider uses Ollama's OpenAI-compatible endpoint under /v1.
func NewOllamaProvider(baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		name:   models.ProviderOllama,
		models: []string{"llama3.1", "mistral", "qwen2.5", "gemma2"},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Models() []string { return p.models }

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	oReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature > 0 {
		oReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	if req.TopP > 0 {
		oReq.TopP = float32(req.TopP)
	}
	if len(req.Stop) > 0 {
		oReq.Stop = req.Stop
	}

	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.name, err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage = EstimateUsage(req.Model, oReq.Messages, content)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &ChatResponse{
		ID:           resp.ID,
		Provider:     p.name,
		Model:        model,
		Content:      content,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
		CostUSD:      CalculateCost(model, usage.PromptTokens, usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// EstimateUsage counts tokens locally for servers that omit usage.
func EstimateUsage(model string, msgs []openai.ChatCompletionMessage, completion string) openai.Usage {
	var prompt int
	for _, m := range msgs {
		prompt += tokenizer.CountTokensForModel(m.Content, model)
	}
	out := tokenizer.CountTokensForModel(completion, model)
	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
