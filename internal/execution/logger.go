package execution

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/models"
)

// Recorder persists execution rows.
type Recorder interface {
	Record(ctx context.Context, e models.Execution)
}

// Logger appends executions to the database. A failed write is logged and
// otherwise ignored so it never changes the outcome of the LLM call.
type Logger struct {
	db *pgxpool.Pool
}

func NewLogger(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Record(ctx context.Context, e models.Execution) {
	_, err := l.db.Exec(context.WithoutCancel(ctx),
		`INSERT INTO executions (workspace_id, prompt_id, version_id, source, system_prompt, user_prompt,
		                         model, provider, response, error, duration_ms, input_tokens, output_tokens,
		                         total_tokens, cost_usd, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.WorkspaceID, e.PromptID, e.VersionID, e.Source, e.SystemPrompt, e.UserPrompt,
		e.Model, e.Provider, e.Response, e.Error, e.DurationMs, e.InputTokens, e.OutputTokens,
		e.TotalTokens, e.CostUSD, e.CreatedBy,
	)
	if err != nil {
		slog.Error("failed to record execution",
			"workspace_id", e.WorkspaceID,
			"source", e.Source,
			"model", e.Model,
			"error", err,
		)
	}
}
