package handlers

import (
	"io"
	"net/http"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/input"
)

const maxUploadBytes = 32 << 20

type InputHandler struct {
	svc *input.Service
}

func NewInputHandler(svc *input.Service) *InputHandler {
	return &InputHandler{svc: svc}
}

type createInputsRequest struct {
	Client   string   `json:"client"`
	Type     string   `json:"type"`
	Contents []string `json:"contents"`
	Source   string   `json:"source"`
}

func (h *InputHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInputsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.svc.CreateBulk(r.Context(), input.BulkRequest{
		Client:   req.Client,
		Type:     req.Type,
		Contents: req.Contents,
		Source:   req.Source,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"inputs": created, "count": len(created)})
}

func (h *InputHandler) List(w http.ResponseWriter, r *http.Request) {
	q := input.ListQuery{
		Type:   r.URL.Query().Get("type"),
		Client: r.URL.Query().Get("client"),
	}
	q.Limit, q.Offset = pagination(r, 100)

	inputs, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"inputs": inputs, "count": len(inputs)})
}

func (h *InputHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// Import takes a multipart upload (field "file", plus optional "client" and
// "type") and stores one input per extracted segment.
func (h *InputHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, apperrors.Validation("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperrors.Validation("file required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, apperrors.Validation("cannot read upload: %v", err))
		return
	}

	created, err := h.svc.Import(r.Context(), header.Filename, header.Header.Get("Content-Type"), data,
		r.FormValue("client"), r.FormValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"inputs": created, "count": len(created)})
}
