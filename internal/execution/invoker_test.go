package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
)

type fakeGateway struct {
	lastReq llm.ChatRequest
	resp    *llm.ChatResponse
	err     error
}

func (f *fakeGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeGateway) ListModels() []llm.ModelInfo { return nil }

func (f *fakeGateway) ResolveProvider(req llm.ChatRequest) string {
	return llm.InferProvider(req.Model, models.ProviderOpenAI)
}

type memRecorder struct{ rows []models.Execution }

func (m *memRecorder) Record(_ context.Context, e models.Execution) { m.rows = append(m.rows, e) }

type staticKeys map[string]string

func (k staticKeys) DefaultKey(_ context.Context, _ uuid.UUID, provider string) (string, error) {
	return k[provider], nil
}

func TestInvoke_RecordsSuccess(t *testing.T) {
	gw := &fakeGateway{resp: &llm.ChatResponse{
		Provider: "anthropic", Model: "claude-3-5-haiku-20241022", Content: "hello",
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: 0.01,
	}}
	rec := &memRecorder{}
	inv := NewInvoker(gw, rec, staticKeys{"anthropic": "sk-ant-ws"}, "gpt-4o-mini")

	ws := uuid.New()
	promptID := uuid.New()
	resp, err := inv.Invoke(context.Background(), Call{
		WorkspaceID:  ws,
		PromptID:     &promptID,
		Source:       models.SourceTest,
		Model:        "claude-3-5-haiku-latest",
		SystemPrompt: "be brief",
		UserPrompt:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "sk-ant-ws", gw.lastReq.APIKey)
	assert.Len(t, gw.lastReq.Messages, 2)

	require.Len(t, rec.rows, 1)
	row := rec.rows[0]
	assert.Equal(t, ws, row.WorkspaceID)
	assert.Equal(t, &promptID, row.PromptID)
	assert.Equal(t, "hello", row.Response)
	assert.Equal(t, 15, row.TotalTokens)
	assert.Empty(t, row.Error)
}

func TestInvoke_RecordsFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("upstream exploded")}
	rec := &memRecorder{}
	inv := NewInvoker(gw, rec, staticKeys{}, "gpt-4o-mini")

	_, err := inv.Invoke(context.Background(), Call{WorkspaceID: uuid.New(), Source: models.SourceEvaluation, UserPrompt: "x"})
	require.Error(t, err)

	require.Len(t, rec.rows, 1)
	assert.Equal(t, "upstream exploded", rec.rows[0].Error)
	assert.Equal(t, "gpt-4o-mini", rec.rows[0].Model, "default model is used when none is given")
	assert.Equal(t, models.ProviderOpenAI, rec.rows[0].Provider)
	assert.Empty(t, gw.lastReq.APIKey, "no stored key falls back to the server key")
}

type brokenKeys struct{}

func (brokenKeys) DefaultKey(context.Context, uuid.UUID, string) (string, error) {
	return "", errors.New("decrypt credential: cipher: message authentication failed")
}

func TestInvoke_RecordsCredentialFailure(t *testing.T) {
	gw := &fakeGateway{resp: &llm.ChatResponse{Content: "unused"}}
	rec := &memRecorder{}
	inv := NewInvoker(gw, rec, brokenKeys{}, "gpt-4o-mini")

	ws := uuid.New()
	_, err := inv.Invoke(context.Background(), Call{WorkspaceID: ws, Source: models.SourceTest, UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve openai credential")

	require.Len(t, rec.rows, 1)
	assert.Equal(t, ws, rec.rows[0].WorkspaceID)
	assert.Equal(t, models.SourceTest, rec.rows[0].Source)
	assert.Contains(t, rec.rows[0].Error, "message authentication failed")
	assert.Empty(t, gw.lastReq.Model, "the LLM is not called without a key")
}
