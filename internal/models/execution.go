package models

import (
	"time"

	"github.com/google/uuid"
)

// Execution sources.
const (
	SourceTest       = "test"
	SourceGateway    = "gateway"
	SourceEvaluation = "evaluation"
)

// Execution is one logged LLM invocation. Rows are never updated.
type Execution struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	WorkspaceID  uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	PromptID     *uuid.UUID `json:"prompt_id,omitempty" db:"prompt_id"`
	VersionID    *uuid.UUID `json:"version_id,omitempty" db:"version_id"`
	Source       string     `json:"source" db:"source"`
	SystemPrompt string     `json:"system_prompt" db:"system_prompt"`
	UserPrompt   string     `json:"user_prompt" db:"user_prompt"`
	Model        string     `json:"model" db:"model"`
	Provider     string     `json:"provider" db:"provider"`
	Response     string     `json:"response" db:"response"`
	Error        string     `json:"error,omitempty" db:"error"`
	DurationMs   int64      `json:"duration_ms" db:"duration_ms"`
	InputTokens  int        `json:"input_tokens" db:"input_tokens"`
	OutputTokens int        `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int        `json:"total_tokens" db:"total_tokens"`
	CostUSD      float64    `json:"cost_usd" db:"cost_usd"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates executions per provider and model.
type UsageSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	Errors       int     `json:"errors"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
