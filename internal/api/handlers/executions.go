package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/execution"
)

type ExecutionHandler struct {
	svc *execution.Service
}

func NewExecutionHandler(svc *execution.Service) *ExecutionHandler {
	return &ExecutionHandler{svc: svc}
}

func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := execution.ListQuery{Source: r.URL.Query().Get("source")}
	q.Limit, q.Offset = pagination(r, 50)

	var err error
	if q.PromptID, err = queryUUID(r, "prompt_id"); err != nil {
		writeError(w, r, err)
		return
	}

	execs, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *ExecutionHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

type bulkDeleteRequest struct {
	IDs      []uuid.UUID `json:"ids"`
	PromptID *uuid.UUID  `json:"prompt_id"`
	All      bool        `json:"all"`
}

func (h *ExecutionHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := h.svc.BulkDelete(r.Context(), execution.BulkDelete{
		IDs:      req.IDs,
		PromptID: req.PromptID,
		All:      req.All,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Summary aggregates usage per provider and model between start_date and
// end_date.
func (h *ExecutionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start_date")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := queryTime(r, "end_date")
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := h.svc.Summary(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}
