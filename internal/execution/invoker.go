package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
)

// KeyResolver returns a workspace's stored key for a provider, or "" when
// the workspace has none.
type KeyResolver interface {
	DefaultKey(ctx context.Context, workspaceID uuid.UUID, provider string) (string, error)
}

// Call is one prompt invocation on behalf of a workspace.
type Call struct {
	WorkspaceID  uuid.UUID
	PromptID     *uuid.UUID
	VersionID    *uuid.UUID
	Source       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Actor        *uuid.UUID
}

// Invoker calls the LLM for a workspace and records one execution per call,
// whether the call succeeds or fails.
type Invoker struct {
	gateway      llm.Gateway
	recorder     Recorder
	keys         KeyResolver
	defaultModel string
}

func NewInvoker(gateway llm.Gateway, recorder Recorder, keys KeyResolver, defaultModel string) *Invoker {
	return &Invoker{
		gateway:      gateway,
		recorder:     recorder,
		keys:         keys,
		defaultModel: defaultModel,
	}
}

func (i *Invoker) Invoke(ctx context.Context, call Call) (*llm.ChatResponse, error) {
	model := call.Model
	if model == "" {
		model = i.defaultModel
	}

	req := llm.ChatRequest{
		Model:    model,
		Messages: llm.BuildMessages(call.SystemPrompt, call.UserPrompt),
	}
	provider := i.gateway.ResolveProvider(req)

	exec := models.Execution{
		WorkspaceID:  call.WorkspaceID,
		PromptID:     call.PromptID,
		VersionID:    call.VersionID,
		Source:       call.Source,
		SystemPrompt: call.SystemPrompt,
		UserPrompt:   call.UserPrompt,
		Model:        model,
		Provider:     provider,
		CreatedBy:    call.Actor,
	}

	if i.keys != nil {
		key, err := i.keys.DefaultKey(ctx, call.WorkspaceID, provider)
		if err != nil {
			err = fmt.Errorf("resolve %s credential: %w", provider, err)
			exec.Error = err.Error()
			i.recorder.Record(ctx, exec)
			return nil, err
		}
		req.APIKey = key
	}

	start := time.Now()
	resp, err := i.gateway.Chat(ctx, req)
	exec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		exec.Error = err.Error()
	} else {
		exec.Model = resp.Model
		exec.Provider = resp.Provider
		exec.Response = resp.Content
		exec.InputTokens = resp.InputTokens
		exec.OutputTokens = resp.OutputTokens
		exec.TotalTokens = resp.TotalTokens
		exec.CostUSD = resp.CostUSD
	}
	i.recorder.Record(ctx, exec)

	return resp, err
}
