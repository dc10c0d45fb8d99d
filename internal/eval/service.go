package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

const evaluationColumns = `id, workspace_id, name, description, created_by, created_at`

const itemColumns = `id, evaluation_id, input, expected_output, created_at`

const runColumns = `id, evaluation_id, prompt_version_id, model, status, score, total_items, passed_items,
	created_by, started_at, completed_at`

// Enqueuer hands a created run to the background worker.
type Enqueuer interface {
	EnqueueEvaluationRun(ctx context.Context, runID uuid.UUID) error
}

type Service struct {
	db           *pgxpool.Pool
	runner       *Runner
	queue        Enqueuer
	defaultModel string
}

func NewService(db *pgxpool.Pool, invoker Invoker, queue Enqueuer, defaultModel string) *Service {
	s := &Service{db: db, queue: queue, defaultModel: defaultModel}
	s.runner = NewRunner(s, invoker)
	return s
}

func (s *Service) Create(ctx context.Context, name, description string) (*models.Evaluation, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := scope.Target()
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}

	e, err := scanEvaluation(s.db.QueryRow(ctx,
		`INSERT INTO evaluations (workspace_id, name, description, created_by)
		 VALUES ($1, $2, $3, $4) RETURNING `+evaluationColumns,
		ws, name, description, tenant.ActorFromContext(ctx),
	))
	if err != nil {
		return nil, fmt.Errorf("create evaluation: %w", err)
	}
	return &e, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Evaluation, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		scope.Filter(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []models.Evaluation{}
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// Get returns an evaluation with its items in creation order and its runs,
// newest first.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.EvaluationDetail, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.loadEvaluation(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	detail := &models.EvaluationDetail{Evaluation: *e}
	if detail.Items, err = s.ListItems(ctx, id); err != nil {
		return nil, err
	}
	if detail.Runs, err = s.listRuns(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := s.loadEvaluation(ctx, scope, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM evaluations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete evaluation: %w", err)
	}
	return nil
}

type ItemInput struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output"`
}

// AddItems appends items to the dataset in the given order.
func (s *Service) AddItems(ctx context.Context, evaluationID uuid.UUID, items []ItemInput) ([]models.EvaluationItem, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.Validation("at least one item is required")
	}
	if _, err := s.loadEvaluation(ctx, scope, evaluationID); err != nil {
		return nil, err
	}

	return database.WithTx(ctx, s.db, func(tx pgx.Tx) ([]models.EvaluationItem, error) {
		return insertItems(ctx, tx, evaluationID, items)
	})
}

func insertItems(ctx context.Context, tx pgx.Tx, evaluationID uuid.UUID, items []ItemInput) ([]models.EvaluationItem, error) {
	created := make([]models.EvaluationItem, 0, len(items))
	for _, in := range items {
		input := in.Input
		if strings.TrimSpace(input) == "" {
			input = "{}"
		}
		item, err := scanItem(tx.QueryRow(ctx,
			`INSERT INTO evaluation_items (evaluation_id, input, expected_output)
			 VALUES ($1, $2, $3) RETURNING `+itemColumns,
			evaluationID, input, in.ExpectedOutput,
		))
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		created = append(created, item)
	}
	return created, nil
}

func (s *Service) DeleteItem(ctx context.Context, evaluationID, itemID uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := s.loadEvaluation(ctx, scope, evaluationID); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM evaluation_items WHERE id = $1 AND evaluation_id = $2`, itemID, evaluationID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("item not found")
	}
	return nil
}

type ImportRequest struct {
	Type     string `json:"type"`
	Client   string `json:"client"`
	Variable string `json:"variable"`
	Limit    int    `json:"limit"`
}

// ImportInputs turns the workspace's client inputs of a type into items,
// each binding its content to one template variable.
func (s *Service) ImportInputs(ctx context.Context, evaluationID uuid.UUID, req ImportRequest) ([]models.EvaluationItem, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, apperrors.Validation("type is required")
	}
	if req.Variable == "" {
		req.Variable = "input"
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 1000
	}
	e, err := s.loadEvaluation(ctx, scope, evaluationID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT content FROM client_inputs
		 WHERE workspace_id = $1 AND type = $2 AND ($3::text = '' OR client = $3)
		 ORDER BY created_at LIMIT $4`,
		e.WorkspaceID, req.Type, req.Client, req.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list client inputs: %w", err)
	}
	contents, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect client inputs: %w", err)
	}
	if len(contents) == 0 {
		return nil, apperrors.NotFound("no client inputs of type %q", req.Type)
	}

	items := make([]ItemInput, 0, len(contents))
	for _, c := range contents {
		b, err := json.Marshal(map[string]string{req.Variable: c})
		if err != nil {
			return nil, fmt.Errorf("encode item input: %w", err)
		}
		items = append(items, ItemInput{Input: string(b)})
	}

	return database.WithTx(ctx, s.db, func(tx pgx.Tx) ([]models.EvaluationItem, error) {
		return insertItems(ctx, tx, evaluationID, items)
	})
}

type RunRequest struct {
	PromptVersionID uuid.UUID
	Model           string
	Async           bool
}

// StartRun creates a run of a prompt version over the dataset. Synchronous
// runs return once every item is scored; async runs return the running run.
func (s *Service) StartRun(ctx context.Context, evaluationID uuid.UUID, req RunRequest) (*models.RunDetail, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.loadEvaluation(ctx, scope, evaluationID)
	if err != nil {
		return nil, err
	}

	job, err := s.loadVersionContent(ctx, req.PromptVersionID)
	if err != nil {
		return nil, err
	}
	if job.WorkspaceID != e.WorkspaceID {
		return nil, apperrors.NotFound("version not found")
	}
	if req.Model != "" {
		job.Model = req.Model
	}
	if job.Model == "" {
		job.Model = s.defaultModel
	}
	job.EvaluationID = evaluationID
	job.Actor = tenant.ActorFromContext(ctx)

	run, err := scanRun(s.db.QueryRow(ctx,
		`INSERT INTO evaluation_runs (evaluation_id, prompt_version_id, model, status, created_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+runColumns,
		evaluationID, job.VersionID, job.Model, models.RunStatusRunning, job.Actor,
	))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	job.RunID = run.ID

	if req.Async && s.queue != nil {
		if err := s.queue.EnqueueEvaluationRun(ctx, run.ID); err != nil {
			if _, delErr := s.db.Exec(context.WithoutCancel(ctx), `DELETE FROM evaluation_runs WHERE id = $1`, run.ID); delErr != nil {
				slog.Error("failed to remove unqueued run", "run_id", run.ID, "error", delErr)
			}
			return nil, fmt.Errorf("enqueue run: %w", err)
		}
		return &models.RunDetail{EvaluationRun: run, Results: []models.EvaluationResult{}}, nil
	}

	return s.runner.Execute(ctx, job)
}

// ExecuteRun processes a run created by an async StartRun. Runs that are
// already completed are returned unchanged.
func (s *Service) ExecuteRun(ctx context.Context, runID uuid.UUID) (*models.RunDetail, error) {
	run, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM evaluation_runs WHERE id = $1`, runID))
	if err != nil {
		return nil, database.MapError(err, apperrors.NotFound("run not found"), err)
	}
	if run.Status == models.RunStatusCompleted {
		return s.loadRunDetail(ctx, run)
	}
	// A run whose version disappeared still has to be closed.
	if run.PromptVersionID == nil {
		slog.Warn("evaluation run lost its version, closing it empty", "run_id", runID)
		return s.CompleteRun(context.WithoutCancel(ctx), run.ID, nil, 0, 0)
	}

	job, err := s.loadVersionContent(ctx, *run.PromptVersionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		slog.Warn("evaluation run lost its version, closing it empty", "run_id", runID)
		return s.CompleteRun(context.WithoutCancel(ctx), run.ID, nil, 0, 0)
	}
	if err != nil {
		return nil, err
	}
	job.RunID = run.ID
	job.EvaluationID = run.EvaluationID
	job.Model = run.Model
	job.Actor = run.CreatedBy

	return s.runner.Execute(ctx, job)
}

func (s *Service) ListRuns(ctx context.Context, evaluationID uuid.UUID) ([]models.EvaluationRun, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadEvaluation(ctx, scope, evaluationID); err != nil {
		return nil, err
	}
	return s.listRuns(ctx, evaluationID)
}

func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*models.RunDetail, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var ws uuid.UUID
	var r models.EvaluationRun
	err = s.db.QueryRow(ctx,
		`SELECT e.workspace_id, r.id, r.evaluation_id, r.prompt_version_id, r.model, r.status, r.score,
		        r.total_items, r.passed_items, r.created_by, r.started_at, r.completed_at
		 FROM evaluation_runs r JOIN evaluations e ON e.id = r.evaluation_id
		 WHERE r.id = $1`, runID,
	).Scan(&ws, &r.ID, &r.EvaluationID, &r.PromptVersionID, &r.Model, &r.Status, &r.Score,
		&r.TotalItems, &r.PassedItems, &r.CreatedBy, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", database.MapError(err, apperrors.NotFound("run not found"), err))
	}
	if !scope.Owns(ws) {
		return nil, apperrors.NotFound("run not found")
	}
	return s.loadRunDetail(ctx, r)
}

// ListItems returns a dataset in creation order.
func (s *Service) ListItems(ctx context.Context, evaluationID uuid.UUID) ([]models.EvaluationItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+itemColumns+` FROM evaluation_items WHERE evaluation_id = $1 ORDER BY created_at, id`,
		evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []models.EvaluationItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CompleteRun writes every result in one batch and closes the run.
func (s *Service) CompleteRun(ctx context.Context, runID uuid.UUID, results []models.EvaluationResult, passed int, score float64) (*models.RunDetail, error) {
	run, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.EvaluationRun, error) {
		if len(results) > 0 {
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"evaluation_results"},
				[]string{"run_id", "item_id", "output", "passed", "score", "duration_ms", "error"},
				pgx.CopyFromSlice(len(results), func(i int) ([]any, error) {
					r := results[i]
					return []any{runID, r.ItemID, r.Output, r.Passed, r.Score, r.DurationMs, r.Error}, nil
				}),
			)
			if err != nil {
				return models.EvaluationRun{}, fmt.Errorf("insert results: %w", err)
			}
		}

		return scanRun(tx.QueryRow(ctx,
			`UPDATE evaluation_runs
			 SET status = $2, score = $3, total_items = $4, passed_items = $5, completed_at = now()
			 WHERE id = $1
			 RETURNING `+runColumns,
			runID, models.RunStatusCompleted, score, len(results), passed,
		))
	})
	if err != nil {
		return nil, err
	}
	return s.loadRunDetail(ctx, run)
}

// loadVersionContent fills a Job with a version's templates and the owning
// prompt's workspace and default model.
func (s *Service) loadVersionContent(ctx context.Context, versionID uuid.UUID) (Job, error) {
	job := Job{VersionID: versionID}
	err := s.db.QueryRow(ctx,
		`SELECT p.workspace_id, p.id, p.default_model, v.system_prompt, v.user_prompt
		 FROM prompt_versions v JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.id = $1`, versionID,
	).Scan(&job.WorkspaceID, &job.PromptID, &job.Model, &job.SystemPrompt, &job.UserPrompt)
	if err != nil {
		return Job{}, fmt.Errorf("load version: %w", database.MapError(err, apperrors.NotFound("version not found"), err))
	}
	return job, nil
}

func (s *Service) loadEvaluation(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.Evaluation, error) {
	e, err := scanEvaluation(s.db.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("load evaluation: %w",
			database.MapError(err, apperrors.NotFound("evaluation not found"), err))
	}
	if !scope.Owns(e.WorkspaceID) {
		return nil, apperrors.NotFound("evaluation not found")
	}
	return &e, nil
}

func (s *Service) loadRunDetail(ctx context.Context, run models.EvaluationRun) (*models.RunDetail, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.run_id, r.item_id, r.output, r.passed, r.score, r.duration_ms, r.error, r.created_at
		 FROM evaluation_results r LEFT JOIN evaluation_items i ON i.id = r.item_id
		 WHERE r.run_id = $1
		 ORDER BY i.created_at NULLS LAST, r.created_at`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	detail := &models.RunDetail{EvaluationRun: run, Results: []models.EvaluationResult{}}
	for rows.Next() {
		var r models.EvaluationResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.ItemID, &r.Output, &r.Passed, &r.Score, &r.DurationMs,
			&r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		detail.Results = append(detail.Results, r)
	}
	return detail, rows.Err()
}

func (s *Service) listRuns(ctx context.Context, evaluationID uuid.UUID) ([]models.EvaluationRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM evaluation_runs WHERE evaluation_id = $1 ORDER BY started_at DESC`,
		evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.EvaluationRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanEvaluation(row pgx.Row) (models.Evaluation, error) {
	var e models.Evaluation
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.Name, &e.Description, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

func scanItem(row pgx.Row) (models.EvaluationItem, error) {
	var i models.EvaluationItem
	err := row.Scan(&i.ID, &i.EvaluationID, &i.Input, &i.ExpectedOutput, &i.CreatedAt)
	return i, err
}

func scanRun(row pgx.Row) (models.EvaluationRun, error) {
	var r models.EvaluationRun
	err := row.Scan(&r.ID, &r.EvaluationID, &r.PromptVersionID, &r.Model, &r.Status, &r.Score,
		&r.TotalItems, &r.PassedItems, &r.CreatedBy, &r.StartedAt, &r.CompletedAt)
	return r, err
}
