package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. A run never ends in a failed state; item errors lower the score.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)

type Evaluation struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type EvaluationItem struct {
	ID             uuid.UUID `json:"id" db:"id"`
	EvaluationID   uuid.UUID `json:"evaluation_id" db:"evaluation_id"`
	Input          string    `json:"input" db:"input"`
	ExpectedOutput *string   `json:"expected_output,omitempty" db:"expected_output"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type EvaluationRun struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	EvaluationID    uuid.UUID  `json:"evaluation_id" db:"evaluation_id"`
	PromptVersionID *uuid.UUID `json:"prompt_version_id,omitempty" db:"prompt_version_id"`
	Model           string     `json:"model" db:"model"`
	Status          string     `json:"status" db:"status"`
	Score           float64    `json:"score" db:"score"`
	TotalItems      int        `json:"total_items" db:"total_items"`
	PassedItems     int        `json:"passed_items" db:"passed_items"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type EvaluationResult struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	RunID      uuid.UUID  `json:"run_id" db:"run_id"`
	ItemID     *uuid.UUID `json:"item_id,omitempty" db:"item_id"`
	Output     string     `json:"output" db:"output"`
	Passed     bool       `json:"passed" db:"passed"`
	Score      float64    `json:"score" db:"score"`
	DurationMs int64      `json:"duration_ms" db:"duration_ms"`
	Error      string     `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// EvaluationDetail is an evaluation with its dataset and run history.
type EvaluationDetail struct {
	Evaluation
	Items []EvaluationItem `json:"items"`
	Runs  []EvaluationRun  `json:"runs"`
}

// RunDetail is a run with its per-item results.
type RunDetail struct {
	EvaluationRun
	Results []EvaluationResult `json:"results"`
}
