package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

const executionColumns = `id, workspace_id, prompt_id, version_id, source, system_prompt, user_prompt,
	model, provider, response, error, duration_ms, input_tokens, output_tokens, total_tokens,
	cost_usd::float8, created_by, created_at`

type Service struct {
	db    *pgxpool.Pool
	audit *audit.Service
}

func NewService(db *pgxpool.Pool, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

type ListQuery struct {
	PromptID *uuid.UUID
	Source   string
	Limit    int
	Offset   int
}

func scanExecution(row interface{ Scan(...any) error }) (models.Execution, error) {
	var e models.Execution
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.PromptID, &e.VersionID, &e.Source, &e.SystemPrompt, &e.UserPrompt,
		&e.Model, &e.Provider, &e.Response, &e.Error, &e.DurationMs, &e.InputTokens, &e.OutputTokens,
		&e.TotalTokens, &e.CostUSD, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]models.Execution, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		   AND ($2::uuid IS NULL OR prompt_id = $2)
		   AND ($3::text = '' OR source = $3)
		 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		scope.Filter(), q.PromptID, q.Source, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := []models.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	e, err := scanExecution(s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get execution: %w",
			database.MapError(err, apperrors.NotFound("execution not found"), err))
	}
	if !scope.Owns(e.WorkspaceID) {
		return nil, apperrors.NotFound("execution not found")
	}
	return &e, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, "DELETE FROM executions WHERE id = $1", e.ID); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

// BulkDelete removes executions of the caller's workspace: the listed ids,
// or every row for PromptID, or everything when All is set.
type BulkDelete struct {
	IDs      []uuid.UUID
	PromptID *uuid.UUID
	All      bool
}

func (s *Service) BulkDelete(ctx context.Context, req BulkDelete) (int64, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return 0, err
	}
	ws, err := scope.Target()
	if err != nil {
		return 0, err
	}

	var (
		query string
		args  []any
	)
	switch {
	case len(req.IDs) > 0:
		query = "DELETE FROM executions WHERE workspace_id = $1 AND id = ANY($2)"
		args = []any{ws, req.IDs}
	case req.PromptID != nil:
		query = "DELETE FROM executions WHERE workspace_id = $1 AND prompt_id = $2"
		args = []any{ws, *req.PromptID}
	case req.All:
		query = "DELETE FROM executions WHERE workspace_id = $1"
		args = []any{ws}
	default:
		return 0, apperrors.Validation("ids, prompt_id or all is required")
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete executions: %w", err)
	}

	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ws,
		Action:       audit.ActionDeleteExecutions,
		ResourceType: "execution",
		Details:      map[string]any{"deleted": tag.RowsAffected(), "all": req.All, "prompt_id": req.PromptID},
	})
	return tag.RowsAffected(), nil
}

// Summary aggregates executions per provider and model between start and end.
func (s *Service) Summary(ctx context.Context, start, end *time.Time) ([]models.UsageSummary, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT provider, model, COUNT(*) AS calls,
			         COUNT(*) FILTER (WHERE error <> '') AS errors,
			         COALESCE(SUM(input_tokens), 0) AS input_tokens,
			         COALESCE(SUM(output_tokens), 0) AS output_tokens,
			         COALESCE(SUM(cost_usd), 0)::float8 AS cost_usd,
			         COALESCE(AVG(duration_ms), 0)::float8 AS avg_latency_ms
			  FROM executions WHERE true`
	var args []any
	argIdx := 1

	if ws := scope.Filter(); ws != nil {
		query += fmt.Sprintf(" AND workspace_id = $%d", argIdx)
		args = append(args, *ws)
		argIdx++
	}
	if start != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *start)
		argIdx++
	}
	if end != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *end)
	}

	query += " GROUP BY provider, model ORDER BY cost_usd DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	out := []models.UsageSummary{}
	for rows.Next() {
		var us models.UsageSummary
		if err := rows.Scan(&us.Provider, &us.Model, &us.Calls, &us.Errors, &us.InputTokens,
			&us.OutputTokens, &us.CostUSD, &us.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		out = append(out, us)
	}
	return out, rows.Err()
}
