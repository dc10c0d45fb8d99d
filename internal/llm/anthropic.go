package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nikhilbhutani/promptdeck/internal/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider calls the Messages API. The SDK's own retries are
// turned off.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
	}
}

func (p *AnthropicProvider) Name() string { return models.ProviderAnthropic }

func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-3-5-haiku-latest",
		"claude-3-7-sonnet-latest",
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
	}
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := anthropicParams(req)

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	elapsed := time.Since(start).Milliseconds()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	model := string(resp.Model)
	return &ChatResponse{
		ID:           resp.ID,
		Provider:     models.ProviderAnthropic,
		Model:        model,
		Content:      text.String(),
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		CostUSD:      CalculateCost(model, in, out),
		LatencyMs:    elapsed,
	}, nil
}

// anthropicParams moves system messages into the system field, joined in
// order, and keeps the user/assistant turns.
func anthropicParams(req ChatRequest) anthropic.MessageNewParams {
	var system []string
	var turns []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(req.Model),
		MaxTokens:     maxTokens,
		Messages:      turns,
		StopSequences: req.Stop,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	return params
}
