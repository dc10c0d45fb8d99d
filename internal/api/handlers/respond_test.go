package handlers

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"net/http"
	"path/filepath"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", apperrors.NotFound("prompt not found"), http.StatusNotFound, `{"error":"prompt not found"}`},
		{"wrapped conflict", fmt.Errorf("delete version: %w", apperrors.Conflict("version is live")), http.StatusConflict, `{"error":"version is live"}`},
		{"validation", apperrors.Validation("name is required"), http.StatusBadRequest, `{"error":"name is required"}`},
		{"upstream", apperrors.Upstream(errors.New("model overloaded")), http.StatusBadGateway, `{"error":"model overloaded"}`},
		{"internal is hidden", errors.New("pq: connection refused"), http.StatusInternalServerError, `{"error":"internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst createPromptRequest

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","nmae":"y"}`))
	err := decodeJSON(httptest.NewRecorder(), req, &dst)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	err = decodeJSON(httptest.NewRecorder(), req, &dst)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","user_prompt":"hi {{name}}"}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "hi {{name}}", dst.UserPrompt)
}

func TestURLUUID(t *testing.T) {
	r := chi.NewRouter()
	var got error
	r.Get("/prompts/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, got = urlUUID(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/prompts/nope", nil))
	assert.ErrorIs(t, got, apperrors.ErrValidation)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/prompts/6f1c2a7e-3d7b-4f43-9a55-2a4b2f0b1c11", nil))
	assert.NoError(t, got)
}

func TestItemRequest_ToInput(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: `{"name":"Ada"}`, want: `{"name":"Ada"}`},
		{raw: `"{\"name\":\"Ada\"}"`, want: `{"name":"Ada"}`},
		{raw: ``, want: ``},
		{raw: `null`, want: ``},
		{raw: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		in, err := itemRequest{Input: []byte(tt.raw)}.toInput()
		if tt.wantErr {
			assert.ErrorIs(t, err, apperrors.ErrValidation, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, in.Input, tt.raw)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyz(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": ok}).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","redis":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy: dial tcp: refused")
}

func TestHandlersShareOneJSONCodec(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	fset := token.NewFileSet()
	for _, name := range files {
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			assert.NotEqual(t, `"encoding/json"`, imp.Path.Value, "%s should use goccy/go-json", name)
		}
	}
}
