package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
)

type PromptHandler struct {
	svc *prompt.Service
}

func NewPromptHandler(svc *prompt.Service) *PromptHandler {
	return &PromptHandler{svc: svc}
}

type createPromptRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	DefaultModel    string          `json:"default_model"`
	Label           string          `json:"label"`
	SystemPrompt    string          `json:"system_prompt"`
	UserPrompt      string          `json:"user_prompt"`
	VariablesSchema json.RawMessage `json:"variables_schema"`
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.Create(r.Context(), prompt.CreateRequest{
		Name:            req.Name,
		Description:     req.Description,
		DefaultModel:    req.DefaultModel,
		Label:           req.Label,
		SystemPrompt:    req.SystemPrompt,
		UserPrompt:      req.UserPrompt,
		VariablesSchema: req.VariablesSchema,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20)

	prompts, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "count": len(prompts)})
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

type updatePromptRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	DefaultModel *string `json:"default_model"`
}

func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updatePromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.Update(r.Context(), id, prompt.UpdateRequest{
		Name:         req.Name,
		Description:  req.Description,
		DefaultModel: req.DefaultModel,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *PromptHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.Duplicate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// Live returns the content currently served for ?environment= (default
// production).
func (h *PromptHandler) Live(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	live, err := h.svc.ResolveLive(r.Context(), id, r.URL.Query().Get("environment"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, live)
}

type testPromptRequest struct {
	VersionID   *uuid.UUID     `json:"version_id"`
	Environment string         `json:"environment"`
	Variables   map[string]any `json:"variables"`
	Model       string         `json:"model"`
}

func (h *PromptHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req testPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Test(r.Context(), id, prompt.TestInput{
		VersionID:   req.VersionID,
		Environment: req.Environment,
		Variables:   req.Variables,
		Model:       req.Model,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type deployRequest struct {
	VersionID   uuid.UUID `json:"version_id"`
	Environment string    `json:"environment"`
}

func (h *PromptHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req deployRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.VersionID == uuid.Nil {
		writeError(w, r, apperrors.Validation("version_id is required"))
		return
	}

	env, err := h.svc.Deploy(r.Context(), id, req.VersionID, req.Environment)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (h *PromptHandler) Environments(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	envs, err := h.svc.ListEnvironments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

func (h *PromptHandler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.DeleteEnvironment(r.Context(), id, chi.URLParam(r, "slug")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PromptHandler) Branches(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	branches, err := h.svc.ListBranches(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

// CurrentPrompt serves ?promptId=&environment= to API-key callers.
func (h *PromptHandler) CurrentPrompt(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "promptId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id == nil {
		writeError(w, r, apperrors.Validation("promptId is required"))
		return
	}

	live, err := h.svc.ResolveLive(r.Context(), *id, r.URL.Query().Get("environment"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, live)
}

// PromptByID serves ?promptId= with its full version history.
func (h *PromptHandler) PromptByID(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "promptId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id == nil {
		writeError(w, r, apperrors.Validation("promptId is required"))
		return
	}

	detail, err := h.svc.Get(r.Context(), *id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}
