package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/promptdeck/internal/llm"
)

type LLMHandler struct {
	gateway llm.Gateway
}

func NewLLMHandler(gw llm.Gateway) *LLMHandler {
	return &LLMHandler{gateway: gw}
}

// Models lists what each configured provider can serve.
func (h *LLMHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.gateway.ListModels()})
}
