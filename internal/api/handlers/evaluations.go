package handlers

import (
	"bytes"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/eval"
	"github.com/nikhilbhutani/promptdeck/internal/models"
)

type EvaluationHandler struct {
	svc *eval.Service
}

func NewEvaluationHandler(svc *eval.Service) *EvaluationHandler {
	return &EvaluationHandler{svc: svc}
}

type createEvaluationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *EvaluationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEvaluationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.svc.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

func (h *EvaluationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20)

	evals, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals, "count": len(evals)})
}

func (h *EvaluationHandler) Get(w http.ResponseWriter, r *http.Request) {
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

func (h *EvaluationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// itemRequest accepts the variables either as a JSON object or as a string
// holding one.
type itemRequest struct {
	Input          json.RawMessage `json:"input"`
	ExpectedOutput *string         `json:"expected_output"`
}

func (it itemRequest) toInput() (eval.ItemInput, error) {
	in := eval.ItemInput{ExpectedOutput: it.ExpectedOutput}
	raw := bytes.TrimSpace(it.Input)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &in.Input); err != nil {
			return in, apperrors.Validation("invalid item input: %v", err)
		}
	case raw[0] == '{':
		in.Input = string(raw)
	default:
		return in, apperrors.Validation("item input must be an object")
	}
	return in, nil
}

// addItemsRequest carries either one item inline or a list under items.
type addItemsRequest struct {
	Input          json.RawMessage `json:"input"`
	ExpectedOutput *string         `json:"expected_output"`
	Items          []itemRequest   `json:"items"`
}

func (h *EvaluationHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reqs := req.Items
	if len(reqs) == 0 {
		reqs = []itemRequest{{Input: req.Input, ExpectedOutput: req.ExpectedOutput}}
	}
	inputs := make([]eval.ItemInput, 0, len(reqs))
	for _, it := range reqs {
		in, err := it.toInput()
		if err != nil {
			writeError(w, r, err)
			return
		}
		inputs = append(inputs, in)
	}

	items, err := h.svc.AddItems(r.Context(), id, inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"items": items, "count": len(items)})
}

func (h *EvaluationHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := urlUUID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.DeleteItem(r.Context(), id, itemID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ImportItems builds items from the workspace's client inputs.
func (h *EvaluationHandler) ImportItems(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req eval.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.svc.ImportInputs(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"items": items, "count": len(items)})
}

type runRequest struct {
	PromptVersionID uuid.UUID `json:"prompt_version_id"`
	Model           string    `json:"model"`
	Async           bool      `json:"async"`
}

// Run scores a prompt version over the dataset. Async runs answer 202 with
// the run still running.
func (h *EvaluationHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PromptVersionID == uuid.Nil {
		writeError(w, r, apperrors.Validation("prompt_version_id is required"))
		return
	}

	run, err := h.svc.StartRun(r.Context(), id, eval.RunRequest{
		PromptVersionID: req.PromptVersionID,
		Model:           req.Model,
		Async:           req.Async,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if run.Status == models.RunStatusRunning {
		status = http.StatusAccepted
	}
	writeJSON(w, status, run)
}

func (h *EvaluationHandler) Runs(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	runs, err := h.svc.ListRuns(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *EvaluationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := urlUUID(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	run, err := h.svc.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
