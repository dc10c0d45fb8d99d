package models

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// DefaultEnvironment is created with every prompt and mirrors live_version_id.
const DefaultEnvironment = "production"

// DefaultBranch is the branch holding a prompt's first version.
const DefaultBranch = "main"

type Prompt struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	WorkspaceID   uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	DefaultModel  string     `json:"default_model" db:"default_model"`
	LiveVersionID *uuid.UUID `json:"live_version_id,omitempty" db:"live_version_id"`
	LiveBranchID  *uuid.UUID `json:"live_branch_id,omitempty" db:"live_branch_id"`
	CreatedBy     *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// PromptVersion content is immutable once inserted; only Label may change.
type PromptVersion struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	PromptID        uuid.UUID       `json:"prompt_id" db:"prompt_id"`
	BranchID        *uuid.UUID      `json:"branch_id,omitempty" db:"branch_id"`
	Number          int             `json:"number" db:"number"`
	Label           string          `json:"label" db:"label"`
	SystemPrompt    string          `json:"system_prompt" db:"system_prompt"`
	UserPrompt      string          `json:"user_prompt" db:"user_prompt"`
	VariablesSchema json.RawMessage `json:"variables_schema,omitempty" db:"variables_schema"`
	ParentVersionID *uuid.UUID      `json:"parent_version_id,omitempty" db:"parent_version_id"`
	CreatedBy       *uuid.UUID      `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type Branch struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PromptID      uuid.UUID  `json:"prompt_id" db:"prompt_id"`
	Name          string     `json:"name" db:"name"`
	Label         string     `json:"label" db:"label"`
	HeadVersionID *uuid.UUID `json:"head_version_id,omitempty" db:"head_version_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

type Environment struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PromptID  uuid.UUID  `json:"prompt_id" db:"prompt_id"`
	Slug      string     `json:"slug" db:"slug"`
	VersionID uuid.UUID  `json:"version_id" db:"version_id"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// PromptDetail is a prompt with everything hanging off it.
type PromptDetail struct {
	Prompt
	Versions     []PromptVersion `json:"versions"`
	Environments []Environment   `json:"environments"`
	Branches     []Branch        `json:"branches"`
}

// LiveContent is what readers of a deployed prompt receive. Templates are
// returned literally, without variable substitution.
type LiveContent struct {
	PromptID        uuid.UUID       `json:"prompt_id"`
	PromptName      string          `json:"prompt_name"`
	WorkspaceID     uuid.UUID       `json:"workspace_id"`
	Environment     string          `json:"environment"`
	VersionID       uuid.UUID       `json:"version_id"`
	VersionNumber   int             `json:"version_number"`
	Label           string          `json:"label"`
	SystemPrompt    string          `json:"system_prompt"`
	UserPrompt      string          `json:"user_prompt"`
	VariablesSchema json.RawMessage `json:"variables_schema,omitempty"`
	Model           string          `json:"model"`
}
