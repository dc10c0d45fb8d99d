package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/cache"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

const promptColumns = `id, workspace_id, name, description, default_model, live_version_id, live_branch_id,
	created_by, created_at, updated_at`

const versionColumns = `id, prompt_id, branch_id, number, label, system_prompt, user_prompt, variables_schema,
	parent_version_id, created_by, created_at`

const branchColumns = `id, prompt_id, name, label, head_version_id, created_at`

const environmentColumns = `id, prompt_id, slug, version_id, updated_by, created_at, updated_at`

// Invoker runs a rendered prompt against an LLM and records the execution.
type Invoker interface {
	Invoke(ctx context.Context, call execution.Call) (*llm.ChatResponse, error)
}

type Service struct {
	db      *pgxpool.Pool
	cache   *cache.Cache
	liveTTL time.Duration
	group   singleflight.Group
	audit   *audit.Service
	invoker Invoker
}

func NewService(db *pgxpool.Pool, c *cache.Cache, liveTTL time.Duration, auditSvc *audit.Service, invoker Invoker) *Service {
	return &Service{
		db:      db,
		cache:   c,
		liveTTL: liveTTL,
		audit:   auditSvc,
		invoker: invoker,
	}
}

type CreateRequest struct {
	Name            string
	Description     string
	DefaultModel    string
	Label           string
	SystemPrompt    string
	UserPrompt      string
	VariablesSchema json.RawMessage
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.Validation("name is required")
	}
	if r.SystemPrompt == "" && r.UserPrompt == "" {
		return apperrors.Validation("system_prompt or user_prompt is required")
	}
	return CheckSchema(r.VariablesSchema)
}

// Create inserts a prompt together with its main branch, version 1 and the
// production environment, all bound to that version, in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Prompt, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := scope.Target()
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	p, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.Prompt, error) {
		return s.createTx(ctx, tx, ws, req)
	})
	if err != nil {
		return nil, fmt.Errorf("create prompt: %w", database.MapError(err, err,
			apperrors.Conflict("a prompt named %q already exists", strings.TrimSpace(req.Name))))
	}
	return &p, nil
}

func (s *Service) createTx(ctx context.Context, tx pgx.Tx, ws uuid.UUID, req CreateRequest) (models.Prompt, error) {
	actor := tenant.ActorFromContext(ctx)

	var promptID uuid.UUID
	err := tx.QueryRow(ctx,
		`INSERT INTO prompts (workspace_id, name, description, default_model, created_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ws, strings.TrimSpace(req.Name), req.Description, req.DefaultModel, actor,
	).Scan(&promptID)
	if err != nil {
		return models.Prompt{}, fmt.Errorf("insert prompt: %w", err)
	}

	var branchID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO branches (prompt_id, name, label) VALUES ($1, $2, 'Main') RETURNING id`,
		promptID, models.DefaultBranch,
	).Scan(&branchID)
	if err != nil {
		return models.Prompt{}, fmt.Errorf("insert main branch: %w", err)
	}

	label := req.Label
	if label == "" {
		label = "v1"
	}
	var versionID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (prompt_id, branch_id, number, label, system_prompt, user_prompt,
		                              variables_schema, created_by)
		 VALUES ($1, $2, 1, $3, $4, $5, $6, $7) RETURNING id`,
		promptID, branchID, label, req.SystemPrompt, req.UserPrompt, nullableJSON(req.VariablesSchema), actor,
	).Scan(&versionID)
	if err != nil {
		return models.Prompt{}, fmt.Errorf("insert first version: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE branches SET head_version_id = $1 WHERE id = $2`, versionID, branchID); err != nil {
		return models.Prompt{}, fmt.Errorf("set branch head: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO environments (prompt_id, slug, version_id, updated_by) VALUES ($1, $2, $3, $4)`,
		promptID, models.DefaultEnvironment, versionID, actor,
	); err != nil {
		return models.Prompt{}, fmt.Errorf("insert production environment: %w", err)
	}

	return scanPrompt(tx.QueryRow(ctx,
		`UPDATE prompts SET live_version_id = $1, live_branch_id = $2 WHERE id = $3
		 RETURNING `+promptColumns,
		versionID, branchID, promptID,
	))
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Prompt, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+promptColumns+` FROM prompts
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		scope.Filter(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// Lookup returns the bare prompt row.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadPrompt(ctx, s.db, scope, id, false)
}

// Get returns a prompt with its versions (newest first), environments and
// branches.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PromptDetail, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.loadPrompt(ctx, s.db, scope, id, false)
	if err != nil {
		return nil, err
	}

	detail := &models.PromptDetail{Prompt: *p}
	if detail.Versions, err = s.listVersions(ctx, id); err != nil {
		return nil, err
	}
	if detail.Environments, err = s.listEnvironments(ctx, id); err != nil {
		return nil, err
	}
	if detail.Branches, err = s.listBranches(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

type UpdateRequest struct {
	Name         *string
	Description  *string
	DefaultModel *string
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Prompt, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		req.Name = &trimmed
	}
	if _, err := s.loadPrompt(ctx, s.db, scope, id, false); err != nil {
		return nil, err
	}

	p, err := scanPrompt(s.db.QueryRow(ctx,
		`UPDATE prompts SET
		   name = COALESCE($2, name),
		   description = COALESCE($3, description),
		   default_model = COALESCE($4, default_model),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING `+promptColumns,
		id, req.Name, req.Description, req.DefaultModel,
	))
	if err != nil {
		name := ""
		if req.Name != nil {
			name = *req.Name
		}
		return nil, fmt.Errorf("update prompt: %w", database.MapError(err,
			apperrors.NotFound("prompt not found"),
			apperrors.Conflict("a prompt named %q already exists", name)))
	}

	s.invalidate(ctx, id)
	return &p, nil
}

// Duplicate copies a prompt's live content into a new prompt named
// <name>_copy, <name>_copy_1, ... whichever is free first.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	src, err := s.loadPrompt(ctx, s.db, scope, id, false)
	if err != nil {
		return nil, err
	}

	content, err := s.sourceContent(ctx, src)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT name FROM prompts WHERE workspace_id = $1 AND starts_with(name, $2)`,
		src.WorkspaceID, src.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompt names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect prompt names: %w", err)
	}
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}

	req := CreateRequest{
		Name:            CopyName(src.Name, taken),
		Description:     src.Description,
		DefaultModel:    src.DefaultModel,
		SystemPrompt:    content.SystemPrompt,
		UserPrompt:      content.UserPrompt,
		VariablesSchema: content.VariablesSchema,
	}

	p, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.Prompt, error) {
		return s.createTx(ctx, tx, src.WorkspaceID, req)
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate prompt: %w", database.MapError(err, err,
			apperrors.Conflict("a prompt named %q already exists", req.Name)))
	}
	return &p, nil
}

// sourceContent picks what a duplicate starts from: the production binding,
// else the newest version.
func (s *Service) sourceContent(ctx context.Context, p *models.Prompt) (*models.PromptVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions
		 WHERE id = COALESCE(
		     (SELECT version_id FROM environments WHERE prompt_id = $1 AND slug = $2),
		     $3,
		     (SELECT id FROM prompt_versions WHERE prompt_id = $1 ORDER BY number DESC LIMIT 1))`,
		p.ID, models.DefaultEnvironment, p.LiveVersionID,
	))
	if err != nil {
		return nil, fmt.Errorf("load source version: %w",
			database.MapError(err, apperrors.NotFound("prompt has no versions"), err))
	}
	return &v, nil
}

// loadPrompt fetches a prompt visible in scope, optionally locking the row
// for the rest of the transaction.
func (s *Service) loadPrompt(ctx context.Context, q database.Querier, scope tenant.Scope, id uuid.UUID, forUpdate bool) (*models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPrompt(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w",
			database.MapError(err, apperrors.NotFound("prompt not found"), err))
	}
	if !scope.Owns(p.WorkspaceID) {
		return nil, apperrors.NotFound("prompt not found")
	}
	return &p, nil
}

func (s *Service) invalidate(ctx context.Context, promptID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, liveGenKey(promptID), liveKey(promptID)); err != nil {
		slog.Warn("failed to invalidate live cache", "prompt_id", promptID, "error", err)
	}
}

func scanPrompt(row pgx.Row) (models.Prompt, error) {
	var p models.Prompt
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.DefaultModel, &p.LiveVersionID,
		&p.LiveBranchID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanVersion(row pgx.Row) (models.PromptVersion, error) {
	var v models.PromptVersion
	err := row.Scan(&v.ID, &v.PromptID, &v.BranchID, &v.Number, &v.Label, &v.SystemPrompt, &v.UserPrompt,
		&v.VariablesSchema, &v.ParentVersionID, &v.CreatedBy, &v.CreatedAt)
	return v, err
}

func scanBranch(row pgx.Row) (models.Branch, error) {
	var b models.Branch
	err := row.Scan(&b.ID, &b.PromptID, &b.Name, &b.Label, &b.HeadVersionID, &b.CreatedAt)
	return b, err
}

func scanEnvironment(row pgx.Row) (models.Environment, error) {
	var e models.Environment
	err := row.Scan(&e.ID, &e.PromptID, &e.Slug, &e.VersionID, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// nullableJSON stores an absent schema as SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if isEmptySchema(raw) {
		return nil
	}
	return []byte(raw)
}
