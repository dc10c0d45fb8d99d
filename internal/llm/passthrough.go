package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

const maxUpstreamBody = 16 << 20

// PassThrough forwards OpenAI-compatible chat requests to an upstream
// server unchanged.
type PassThrough struct {
	baseURL    string
	defaultKey string
	client     *http.Client
}

func NewPassThrough(baseURL, defaultKey string) *PassThrough {
	if baseURL == "" {
		baseURL = openai.DefaultConfig("").BaseURL
	}
	return &PassThrough{
		baseURL:    strings.TrimRight(baseURL, "/"),
		defaultKey: defaultKey,
		client:     &http.Client{},
	}
}

// ForwardResult is the upstream response plus what was measured around it.
// Body holds the upstream bytes as received; Response is decoded from them.
type ForwardResult struct {
	Body        []byte
	ContentType string
	Response    openai.ChatCompletionResponse
	Usage       openai.Usage
	CostUSD     float64
	LatencyMs   int64
}

// Forward sends req upstream with apiKey, or the default key when apiKey is
// empty. Nothing is retried. On an upstream failure the returned result
// still carries the measured latency.
func (p *PassThrough) Forward(ctx context.Context, apiKey string, req openai.ChatCompletionRequest) (*ForwardResult, error) {
	if req.Stream {
		return nil, apperrors.Validation("streaming is not supported by the gateway")
	}
	if req.Model == "" {
		return nil, apperrors.Validation("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, apperrors.Validation("messages are required")
	}

	key := apiKey
	if key == "" {
		key = p.defaultKey
	}
	if key == "" {
		return nil, errors.New("no upstream API key configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	res := &ForwardResult{}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		res.LatencyMs = time.Since(start).Milliseconds()
		return res, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return res, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, upstreamError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &res.Response); err != nil {
		return res, fmt.Errorf("decode upstream response: %w", err)
	}

	res.Body = body
	res.ContentType = resp.Header.Get("Content-Type")
	res.Usage = res.Response.Usage
	if res.Usage.TotalTokens == 0 {
		content := ""
		if len(res.Response.Choices) > 0 {
			content = res.Response.Choices[0].Message.Content
		}
		res.Usage = EstimateUsage(req.Model, req.Messages, content)
	}

	model := res.Response.Model
	if model == "" {
		model = req.Model
	}
	res.CostUSD = CalculateCost(model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	return res, nil
}

// upstreamError prefers the provider's own error message.
func upstreamError(status int, body []byte) error {
	var errResp openai.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		errResp.Error.HTTPStatusCode = status
		return errResp.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("upstream returned %d: %s", status, msg)
}
