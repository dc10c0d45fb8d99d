package handlers

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
)

type createVersionRequest struct {
	PromptID        uuid.UUID       `json:"prompt_id"`
	BranchID        *uuid.UUID      `json:"branch_id"`
	Label           string          `json:"label"`
	SystemPrompt    string          `json:"system_prompt"`
	UserPrompt      string          `json:"user_prompt"`
	VariablesSchema json.RawMessage `json:"variables_schema"`
}

func (h *PromptHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PromptID == uuid.Nil {
		writeError(w, r, apperrors.Validation("prompt_id is required"))
		return
	}

	v, err := h.svc.CreateVersion(r.Context(), prompt.VersionInput{
		PromptID:        req.PromptID,
		BranchID:        req.BranchID,
		Label:           req.Label,
		SystemPrompt:    req.SystemPrompt,
		UserPrompt:      req.UserPrompt,
		VariablesSchema: req.VariablesSchema,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func (h *PromptHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.svc.GetVersion(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

type updateVersionRequest struct {
	Label string `json:"label"`
}

// UpdateVersion relabels a version. Content is immutable.
func (h *PromptHandler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateVersionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.svc.UpdateVersionLabel(r.Context(), id, req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *PromptHandler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.DeleteVersion(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearVersions deletes every version of ?prompt_id= that nothing points at.
func (h *PromptHandler) ClearVersions(w http.ResponseWriter, r *http.Request) {
	promptID, err := queryUUID(r, "prompt_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if promptID == nil {
		writeError(w, r, apperrors.Validation("prompt_id is required"))
		return
	}

	deleted, err := h.svc.ClearVersions(r.Context(), *promptID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
