package handlers

import (
	"net/http"
	"time"

	"github.com/nikhilbhutani/promptdeck/internal/keys"
)

type KeyHandler struct {
	svc *keys.Service
}

func NewKeyHandler(svc *keys.Service) *KeyHandler {
	return &KeyHandler{svc: svc}
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	IsAdmin   bool       `json:"is_admin"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Create returns the plaintext key. It is not retrievable afterwards.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.svc.Create(r.Context(), keys.CreateRequest{
		Name:      req.Name,
		IsAdmin:   req.IsAdmin,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": list})
}

type updateKeyRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

func (h *KeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	k, err := h.svc.Update(r.Context(), id, keys.UpdateRequest{Name: req.Name, IsActive: req.IsActive})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, k)
}

func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
