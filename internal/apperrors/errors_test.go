package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("prompt not found"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get prompt: %w", NotFound("prompt not found")), http.StatusNotFound},
		{"validation", Validation("name is required"), http.StatusBadRequest},
		{"conflict", Conflict("version is live"), http.StatusConflict},
		{"unauthorized", Unauthorized("missing key"), http.StatusUnauthorized},
		{"forbidden", Forbidden("admin only"), http.StatusForbidden},
		{"upstream", Upstream(errors.New("rate limited")), http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "prompt not found", Message(fmt.Errorf("get: %w", NotFound("prompt not found"))))
	assert.Equal(t, "rate limited", Message(Upstream(errors.New("rate limited"))))
	assert.Equal(t, "internal server error", Message(errors.New("pq: connection refused")))
	assert.Equal(t, "not found", Message(ErrNotFound))
}
