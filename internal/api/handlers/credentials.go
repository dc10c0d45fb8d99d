package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/promptdeck/internal/credential"
)

type CredentialHandler struct {
	svc *credential.Service
}

func NewCredentialHandler(svc *credential.Service) *CredentialHandler {
	return &CredentialHandler{svc: svc}
}

type createCredentialRequest struct {
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	IsDefault bool   `json:"is_default"`
}

func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.svc.Create(r.Context(), credential.CreateRequest{
		Provider:  req.Provider,
		Name:      req.Name,
		Key:       req.Key,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}

type updateCredentialRequest struct {
	Name *string `json:"name"`
	Key  *string `json:"key"`
}

func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.svc.Update(r.Context(), id, credential.UpdateRequest{Name: req.Name, Key: req.Key})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *CredentialHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.svc.SetDefault(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
