package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
)

type createBranchRequest struct {
	PromptID uuid.UUID `json:"prompt_id"`
	Name     string    `json:"name"`
	Label    string    `json:"label"`
}

func (h *PromptHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PromptID == uuid.Nil {
		writeError(w, r, apperrors.Validation("prompt_id is required"))
		return
	}

	b, err := h.svc.CreateBranch(r.Context(), req.PromptID, req.Name, req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

type branchRequest struct {
	BranchID uuid.UUID `json:"branch_id"`
}

func (h *PromptHandler) DeployBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BranchID == uuid.Nil {
		writeError(w, r, apperrors.Validation("branch_id is required"))
		return
	}

	b, err := h.svc.DeployBranch(r.Context(), req.BranchID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

type testBranchRequest struct {
	BranchID  uuid.UUID      `json:"branch_id"`
	Variables map[string]any `json:"variables"`
	Model     string         `json:"model"`
}

func (h *PromptHandler) TestBranch(w http.ResponseWriter, r *http.Request) {
	var req testBranchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BranchID == uuid.Nil {
		writeError(w, r, apperrors.Validation("branch_id is required"))
		return
	}

	res, err := h.svc.TestBranch(r.Context(), req.BranchID, prompt.TestInput{
		Variables: req.Variables,
		Model:     req.Model,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
