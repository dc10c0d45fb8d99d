package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

type fakeForwarder struct {
	gotKey string
	err    error
}

func (f *fakeForwarder) Forward(_ context.Context, apiKey string, req openai.ChatCompletionRequest) (*llm.ForwardResult, error) {
	f.gotKey = apiKey
	if f.err != nil {
		if errors.Is(f.err, apperrors.ErrValidation) {
			return nil, f.err
		}
		return &llm.ForwardResult{LatencyMs: 37}, f.err
	}
	return &llm.ForwardResult{
		Body:        []byte(upstreamBody),
		ContentType: "application/json",
		Response: openai.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Model:   req.Model + "-2024-07-18",
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi there"}}},
			Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
		Usage:     openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		CostUSD:   0.0042,
		LatencyMs: 12,
	}, nil
}

type fakeCreds map[uuid.UUID]string

func (f fakeCreds) DefaultKey(_ context.Context, ws uuid.UUID, provider string) (string, error) {
	if provider != models.ProviderOpenAI {
		return "", nil
	}
	return f[ws], nil
}

type fakePrompts map[uuid.UUID]*models.Prompt

func (f fakePrompts) Lookup(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	p, ok := f[id]
	if !ok {
		return nil, apperrors.NotFound("prompt not found")
	}
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !scope.Owns(p.WorkspaceID) {
		return nil, apperrors.NotFound("prompt not found")
	}
	return p, nil
}

type captureRecorder struct {
	rows []models.Execution
}

func (c *captureRecorder) Record(_ context.Context, e models.Execution) {
	c.rows = append(c.rows, e)
}

type gatewayFixture struct {
	ws       uuid.UUID
	prompt   *models.Prompt
	upstream *fakeForwarder
	recorder *captureRecorder
	handler  *GatewayHandler
}

func newGatewayFixture(creds fakeCreds) *gatewayFixture {
	ws := uuid.New()
	p := &models.Prompt{ID: uuid.New(), WorkspaceID: ws, Name: "greeter"}
	f := &gatewayFixture{
		ws:       ws,
		prompt:   p,
		upstream: &fakeForwarder{},
		recorder: &captureRecorder{},
	}
	if creds == nil {
		creds = fakeCreds{}
	}
	f.handler = NewGatewayHandler(f.upstream, creds, fakePrompts{p.ID: p}, f.recorder, "root-secret")
	return f
}

func (f *gatewayFixture) do(t *testing.T, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateway", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req = req.WithContext(tenant.WithIdentity(req.Context(), &tenant.Identity{WorkspaceID: f.ws, Via: tenant.ViaAPIKey}))
	rec := httptest.NewRecorder()
	f.handler.ChatCompletions(rec, req)
	return rec
}

const upstreamBody = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"}}],"x_vendor_extra":{"trace":"abc"}}`

const chatBody = `{"model":"gpt-4o-mini","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hello"}]}`

func TestGateway_ForwardsAndLogsForKnownPrompt(t *testing.T) {
	f := newGatewayFixture(nil)

	rec := f.do(t, chatBody, map[string]string{
		"Authorization": "Bearer sk-caller",
		PromptIDHeader:  f.prompt.ID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, upstreamBody, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "sk-caller", f.upstream.gotKey)

	require.Len(t, f.recorder.rows, 1)
	row := f.recorder.rows[0]
	assert.Equal(t, f.ws, row.WorkspaceID)
	assert.Equal(t, models.SourceGateway, row.Source)
	assert.Equal(t, "be brief", row.SystemPrompt)
	assert.Equal(t, "hello", row.UserPrompt)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", row.Model)
	assert.Equal(t, "hi there", row.Response)
	assert.Equal(t, 15, row.TotalTokens)
	assert.InDelta(t, 0.0042, row.CostUSD, 1e-9)
	assert.Equal(t, int64(12), row.DurationMs)
}

func TestGateway_NoLogWithoutKnownPrompt(t *testing.T) {
	f := newGatewayFixture(nil)

	rec := f.do(t, chatBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, chatBody, map[string]string{PromptIDHeader: uuid.NewString()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, chatBody, map[string]string{PromptIDHeader: "not-a-uuid"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, f.recorder.rows)
}

func TestGateway_KeySelection(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		stored bool
		want   string
	}{
		{name: "caller bearer", auth: "Bearer sk-own", stored: true, want: "sk-own"},
		{name: "service key bearer falls back to credential", auth: "Bearer pk_abc", stored: true, want: "sk-stored"},
		{name: "system secret is never forwarded", auth: "Bearer root-secret", want: ""},
		{name: "no bearer uses credential", stored: true, want: "sk-stored"},
		{name: "nothing stored uses server default", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(nil)
			if tt.stored {
				f.handler.keys = fakeCreds{f.ws: "sk-stored"}
			}
			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}

			rec := f.do(t, chatBody, headers)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, f.upstream.gotKey)
		})
	}
}

func TestGateway_UpstreamErrorIs500AndStillLogged(t *testing.T) {
	f := newGatewayFixture(nil)
	f.upstream.err = errors.New("error, status code: 429, message: rate limited")

	rec := f.do(t, chatBody, map[string]string{PromptIDHeader: f.prompt.ID.String()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"error, status code: 429, message: rate limited"}`, rec.Body.String())

	require.Len(t, f.recorder.rows, 1)
	assert.Contains(t, f.recorder.rows[0].Error, "rate limited")
	assert.Equal(t, int64(37), f.recorder.rows[0].DurationMs)
}

func TestGateway_BadRequest(t *testing.T) {
	f := newGatewayFixture(nil)
	f.upstream.err = apperrors.Validation("messages are required")

	rec := f.do(t, `{"model":"gpt-4o-mini","messages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.recorder.rows)
}
