package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/auth"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// PromptIDHeader links a gateway call to a stored prompt.
const PromptIDHeader = "X-Prompt-Id"

type Forwarder interface {
	Forward(ctx context.Context, apiKey string, req openai.ChatCompletionRequest) (*llm.ForwardResult, error)
}

type PromptLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
}

// GatewayHandler serves the OpenAI-compatible pass-through.
type GatewayHandler struct {
	upstream     Forwarder
	keys         execution.KeyResolver
	prompts      PromptLookup
	recorder     execution.Recorder
	systemSecret string
}

func NewGatewayHandler(upstream Forwarder, keys execution.KeyResolver, prompts PromptLookup, recorder execution.Recorder, systemSecret string) *GatewayHandler {
	return &GatewayHandler{
		upstream:     upstream,
		keys:         keys,
		prompts:      prompts,
		recorder:     recorder,
		systemSecret: systemSecret,
	}
}

func (h *GatewayHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, apperrors.Validation("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	key, err := h.upstreamKey(ctx, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.upstream.Forward(ctx, key, req)
	if err != nil && errors.Is(err, apperrors.ErrValidation) {
		writeError(w, r, err)
		return
	}

	h.record(ctx, r, req, res, err)

	if err != nil {
		slog.Warn("gateway upstream call failed", "model", req.Model, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeUpstream(w, res)
}

// writeUpstream sends the upstream body exactly as it was received.
func writeUpstream(w http.ResponseWriter, res *llm.ForwardResult) {
	if res.Body == nil {
		writeJSON(w, http.StatusOK, res.Response)
		return
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Body); err != nil {
		slog.Warn("write gateway response", "error", err)
	}
}

// upstreamKey picks the caller's own bearer key, then the workspace's
// default OpenAI credential. An empty result means the server default.
func (h *GatewayHandler) upstreamKey(ctx context.Context, r *http.Request) (string, error) {
	if token := bearerToken(r); token != "" && !strings.HasPrefix(token, auth.KeyPrefix) && token != h.systemSecret {
		return token, nil
	}

	id := tenant.FromContext(ctx)
	if id == nil || id.WorkspaceID == uuid.Nil || h.keys == nil {
		return "", nil
	}
	key, err := h.keys.DefaultKey(ctx, id.WorkspaceID, models.ProviderOpenAI)
	if err != nil {
		return "", err
	}
	return key, nil
}

// record logs an execution when the call names a prompt the caller can see.
func (h *GatewayHandler) record(ctx context.Context, r *http.Request, req openai.ChatCompletionRequest, res *llm.ForwardResult, callErr error) {
	raw := r.Header.Get(PromptIDHeader)
	if raw == "" || h.recorder == nil || h.prompts == nil {
		return
	}
	promptID, err := uuid.Parse(raw)
	if err != nil {
		return
	}
	p, err := h.prompts.Lookup(ctx, promptID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			slog.Warn("gateway prompt lookup failed", "prompt_id", promptID, "error", err)
		}
		return
	}

	system, user := splitMessages(req.Messages)
	exec := models.Execution{
		WorkspaceID:  p.WorkspaceID,
		PromptID:     &p.ID,
		Source:       models.SourceGateway,
		SystemPrompt: system,
		UserPrompt:   user,
		Model:        req.Model,
		Provider:     models.ProviderOpenAI,
		CreatedBy:    tenant.ActorFromContext(ctx),
	}
	if res != nil {
		exec.DurationMs = res.LatencyMs
	}
	if callErr != nil {
		exec.Error = callErr.Error()
	} else {
		if res.Response.Model != "" {
			exec.Model = res.Response.Model
		}
		if len(res.Response.Choices) > 0 {
			exec.Response = res.Response.Choices[0].Message.Content
		}
		exec.InputTokens = res.Usage.PromptTokens
		exec.OutputTokens = res.Usage.CompletionTokens
		exec.TotalTokens = res.Usage.TotalTokens
		exec.CostUSD = res.CostUSD
	}
	h.recorder.Record(ctx, exec)
}

func splitMessages(msgs []openai.ChatCompletionMessage) (system, user string) {
	var sys, usr []string
	for _, m := range msgs {
		switch m.Role {
		case openai.ChatMessageRoleSystem, "developer":
			sys = append(sys, m.Content)
		case openai.ChatMessageRoleUser:
			usr = append(usr, m.Content)
		}
	}
	return strings.Join(sys, "\n"), strings.Join(usr, "\n")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
