package prompt

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

var reviewSchema = json.RawMessage(`{
	"type": "object",
	"required": ["review"],
	"properties": {
		"review": {"type": "string", "minLength": 1},
		"stars": {"type": "integer", "minimum": 1, "maximum": 5}
	}
}`)

func TestCheckSchema(t *testing.T) {
	assert.NoError(t, CheckSchema(nil))
	assert.NoError(t, CheckSchema(json.RawMessage("null")))
	assert.NoError(t, CheckSchema(reviewSchema))
	assert.ErrorIs(t, CheckSchema(json.RawMessage(`{"type": 12}`)), apperrors.ErrValidation)
	assert.ErrorIs(t, CheckSchema(json.RawMessage(`{not json`)), apperrors.ErrValidation)
}

func TestValidateVariables(t *testing.T) {
	assert.NoError(t, ValidateVariables(nil, map[string]any{"anything": 1}))
	assert.NoError(t, ValidateVariables(reviewSchema, map[string]any{"review": "great", "stars": float64(5)}))

	err := ValidateVariables(reviewSchema, map[string]any{"stars": float64(3)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = ValidateVariables(reviewSchema, map[string]any{"review": "ok", "stars": float64(9)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestValidateVariables_IntegerTypes(t *testing.T) {
	assert.NoError(t, ValidateVariables(reviewSchema, map[string]any{"review": "fine", "stars": 4}))
	assert.NoError(t, ValidateVariables(reviewSchema, map[string]any{"review": "fine"}))

	err := ValidateVariables(reviewSchema, map[string]any{"review": "fine", "stars": 4.5})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = ValidateVariables(reviewSchema, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
