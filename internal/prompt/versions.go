package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

type VersionInput struct {
	PromptID        uuid.UUID
	BranchID        *uuid.UUID
	Label           string
	SystemPrompt    string
	UserPrompt      string
	VariablesSchema json.RawMessage
}

// CreateVersion appends a version to a prompt. Numbers are assigned under a
// row lock on the prompt so they stay dense and unique. The new version
// becomes the head of its branch.
func (s *Service) CreateVersion(ctx context.Context, in VersionInput) (*models.PromptVersion, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Label) == "" {
		return nil, apperrors.Validation("label is required")
	}
	if in.SystemPrompt == "" && in.UserPrompt == "" {
		return nil, apperrors.Validation("system_prompt or user_prompt is required")
	}
	if err := CheckSchema(in.VariablesSchema); err != nil {
		return nil, err
	}

	v, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.PromptVersion, error) {
		if _, err := s.loadPrompt(ctx, tx, scope, in.PromptID, true); err != nil {
			return models.PromptVersion{}, err
		}
		return s.insertVersion(ctx, tx, in)
	})
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return &v, nil
}

// insertVersion expects the prompt row to be locked by the caller.
func (s *Service) insertVersion(ctx context.Context, tx pgx.Tx, in VersionInput) (models.PromptVersion, error) {
	var parent *uuid.UUID
	if in.BranchID != nil {
		b, err := scanBranch(tx.QueryRow(ctx,
			`SELECT `+branchColumns+` FROM branches WHERE id = $1 AND prompt_id = $2`,
			*in.BranchID, in.PromptID))
		if err != nil {
			return models.PromptVersion{}, database.MapError(err,
				apperrors.Validation("branch does not belong to this prompt"), err)
		}
		parent = b.HeadVersionID
	} else {
		err := tx.QueryRow(ctx,
			`SELECT id FROM prompt_versions WHERE prompt_id = $1 ORDER BY number DESC LIMIT 1`,
			in.PromptID).Scan(&parent)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return models.PromptVersion{}, fmt.Errorf("load latest version: %w", err)
		}
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM prompt_versions WHERE prompt_id = $1`,
		in.PromptID).Scan(&next); err != nil {
		return models.PromptVersion{}, fmt.Errorf("next version number: %w", err)
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (prompt_id, branch_id, number, label, system_prompt, user_prompt,
		                              variables_schema, parent_version_id, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+versionColumns,
		in.PromptID, in.BranchID, next, in.Label, in.SystemPrompt, in.UserPrompt,
		nullableJSON(in.VariablesSchema), parent, tenant.ActorFromContext(ctx),
	))
	if err != nil {
		return models.PromptVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if in.BranchID != nil {
		if _, err := tx.Exec(ctx, `UPDATE branches SET head_version_id = $1 WHERE id = $2`, v.ID, *in.BranchID); err != nil {
			return models.PromptVersion{}, fmt.Errorf("advance branch head: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE prompts SET updated_at = now() WHERE id = $1`, in.PromptID); err != nil {
		return models.PromptVersion{}, fmt.Errorf("touch prompt: %w", err)
	}
	return v, nil
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*models.PromptVersion, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadVersion(ctx, scope, id)
}

func (s *Service) loadVersion(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.PromptVersion, error) {
	var ws uuid.UUID
	var v models.PromptVersion
	err := s.db.QueryRow(ctx,
		`SELECT p.workspace_id, v.id, v.prompt_id, v.branch_id, v.number, v.label, v.system_prompt,
		        v.user_prompt, v.variables_schema, v.parent_version_id, v.created_by, v.created_at
		 FROM prompt_versions v JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.id = $1`, id,
	).Scan(&ws, &v.ID, &v.PromptID, &v.BranchID, &v.Number, &v.Label, &v.SystemPrompt,
		&v.UserPrompt, &v.VariablesSchema, &v.ParentVersionID, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load version: %w",
			database.MapError(err, apperrors.NotFound("version not found"), err))
	}
	if !scope.Owns(ws) {
		return nil, apperrors.NotFound("version not found")
	}
	return &v, nil
}

// UpdateVersionLabel renames a version. Content is immutable.
func (s *Service) UpdateVersionLabel(ctx context.Context, id uuid.UUID, label string) (*models.PromptVersion, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if label == "" {
		return nil, apperrors.Validation("label is required")
	}
	v, err := s.loadVersion(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(ctx, `UPDATE prompt_versions SET label = $1 WHERE id = $2`, label, id); err != nil {
		return nil, fmt.Errorf("update version label: %w", err)
	}
	v.Label = label
	s.invalidate(ctx, v.PromptID)
	return v, nil
}

// DeleteVersion removes a version that nothing points at: not live, not bound
// to an environment, not a branch head and not under a running evaluation.
func (s *Service) DeleteVersion(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	v, err := s.loadVersion(ctx, scope, id)
	if err != nil {
		return err
	}

	ws, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (uuid.UUID, error) {
		p, err := s.loadPrompt(ctx, tx, scope, v.PromptID, true)
		if err != nil {
			return uuid.Nil, err
		}
		if p.LiveVersionID != nil && *p.LiveVersionID == id {
			return uuid.Nil, apperrors.Conflict("version %d is live; deploy another version first", v.Number)
		}

		var bound, heads, running int
		err = tx.QueryRow(ctx,
			`SELECT (SELECT count(*) FROM environments WHERE version_id = $1),
			        (SELECT count(*) FROM branches WHERE head_version_id = $1),
			        (SELECT count(*) FROM evaluation_runs WHERE prompt_version_id = $1 AND status = $2)`,
			id, models.RunStatusRunning,
		).Scan(&bound, &heads, &running)
		if err != nil {
			return uuid.Nil, fmt.Errorf("check version references: %w", err)
		}
		if bound > 0 {
			return uuid.Nil, apperrors.Conflict("version %d is deployed to an environment", v.Number)
		}
		if heads > 0 {
			return uuid.Nil, apperrors.Conflict("version %d is the head of a branch", v.Number)
		}
		if running > 0 {
			return uuid.Nil, apperrors.Conflict("version %d has an evaluation run in progress", v.Number)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM prompt_versions WHERE id = $1`, id); err != nil {
			return uuid.Nil, fmt.Errorf("delete version: %w", err)
		}
		return p.WorkspaceID, nil
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ws,
		Action:       audit.ActionDeleteVersion,
		ResourceType: "prompt_version",
		ResourceID:   &id,
		Details:      map[string]any{"prompt_id": v.PromptID, "number": v.Number},
	})
	return nil
}

// ClearVersions deletes every version of a prompt that nothing points at,
// using the same rules as DeleteVersion. It returns how many were removed.
func (s *Service) ClearVersions(ctx context.Context, promptID uuid.UUID) (int64, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var ws uuid.UUID
	n, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (int64, error) {
		p, err := s.loadPrompt(ctx, tx, scope, promptID, true)
		if err != nil {
			return 0, err
		}

		ws = p.WorkspaceID
		keep := `SELECT version_id FROM environments WHERE prompt_id = $1
		         UNION SELECT head_version_id FROM branches WHERE prompt_id = $1 AND head_version_id IS NOT NULL
		         UNION SELECT $2::uuid WHERE $2::uuid IS NOT NULL
		         UNION SELECT prompt_version_id FROM evaluation_runs WHERE status = $3 AND prompt_version_id IS NOT NULL`

		tag, err := tx.Exec(ctx,
			`DELETE FROM prompt_versions WHERE prompt_id = $1 AND id NOT IN (`+keep+`)`,
			promptID, p.LiveVersionID, models.RunStatusRunning)
		if err != nil {
			return 0, fmt.Errorf("clear versions: %w", err)
		}
		return tag.RowsAffected(), nil
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.audit.Record(ctx, audit.LogEntry{
			WorkspaceID:  ws,
			Action:       audit.ActionClearVersions,
			ResourceType: "prompt",
			ResourceID:   &promptID,
			Details:      map[string]any{"deleted": n},
		})
	}
	return n, nil
}

func (s *Service) listVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = $1 ORDER BY number DESC`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []models.PromptVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
