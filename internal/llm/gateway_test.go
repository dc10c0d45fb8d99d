package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/models"
)

type fakeProvider struct {
	name  string
	calls int
	err   error
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{f.name + "-model"} }

func (f *fakeProvider) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Provider: f.name, Model: req.Model, Content: "ok"}, nil
}

func TestGateway_RoutesByModel(t *testing.T) {
	openai := &fakeProvider{name: models.ProviderOpenAI}
	anthropic := &fakeProvider{name: models.ProviderAnthropic}
	g := newGatewayWithProviders(models.ProviderOpenAI, openai, anthropic)

	resp, err := g.Chat(context.Background(), ChatRequest{Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAnthropic, resp.Provider)

	resp, err = g.Chat(context.Background(), ChatRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, resp.Provider)
}

func TestGateway_NoRetryNoFallback(t *testing.T) {
	failing := &fakeProvider{name: models.ProviderOpenAI, err: errors.New("rate limited")}
	other := &fakeProvider{name: models.ProviderAnthropic}
	g := newGatewayWithProviders(models.ProviderOpenAI, failing, other)

	_, err := g.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 0, other.calls)
}

func TestGateway_UnconfiguredProvider(t *testing.T) {
	g := newGatewayWithProviders(models.ProviderOpenAI)
	_, err := g.Chat(context.Background(), ChatRequest{Model: "claude-3-opus"})
	assert.ErrorContains(t, err, `provider "anthropic" not configured`)
}

func TestInferProvider(t *testing.T) {
	assert.Equal(t, models.ProviderAnthropic, InferProvider("claude-opus-4", "openai"))
	assert.Equal(t, models.ProviderOpenAI, InferProvider("gpt-4.1", "anthropic"))
	assert.Equal(t, models.ProviderOllama, InferProvider("llama3.1:8b", "openai"))
	assert.Equal(t, "openai", InferProvider("custom-model", "openai"))
}

func TestListModels_SortedByProvider(t *testing.T) {
	g := newGatewayWithProviders("openai",
		&fakeProvider{name: "openai"}, &fakeProvider{name: "anthropic"})

	list := g.ListModels()
	require.Len(t, list, 2)
	assert.Equal(t, "anthropic", list[0].Provider)
	assert.Equal(t, "openai", list[1].Provider)
}

func TestBuildMessages(t *testing.T) {
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, BuildMessages("", "hi"))
	assert.Len(t, BuildMessages("sys", "hi"), 2)
}
