package prompt

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

const schemaResource = "variables.json"

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaResource)
}

// CheckSchema reports a validation error when raw is set but is not a valid
// JSON Schema.
func CheckSchema(raw []byte) error {
	if isEmptySchema(raw) {
		return nil
	}
	if _, err := compileSchema(raw); err != nil {
		return apperrors.Validation("invalid variables_schema: %v", err)
	}
	return nil
}

// ValidateVariables checks vars against a version's variables schema.
// Versions without a schema accept any variables.
func ValidateVariables(raw []byte, vars map[string]any) error {
	if isEmptySchema(raw) {
		return nil
	}
	schema, err := compileSchema(raw)
	if err != nil {
		return fmt.Errorf("compile stored variables schema: %w", err)
	}

	// Round-trip so numbers have the types the validator expects.
	doc, err := normalize(vars)
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return apperrors.Validation("variables do not match schema: %v", err)
	}
	return nil
}

func normalize(vars map[string]any) (any, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	// The validator expects json.Number for numeric values.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	return doc, nil
}

func isEmptySchema(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
