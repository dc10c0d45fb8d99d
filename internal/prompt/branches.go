package prompt

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// CreateBranch forks the live branch: the new branch starts with a copy of
// the live head as its own first version.
func (s *Service) CreateBranch(ctx context.Context, promptID uuid.UUID, name, label string) (*models.Branch, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateSlug("branch", name); err != nil {
		return nil, err
	}
	if label == "" {
		label = name
	}

	b, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.Branch, error) {
		p, err := s.loadPrompt(ctx, tx, scope, promptID, true)
		if err != nil {
			return models.Branch{}, err
		}
		if p.LiveBranchID == nil {
			return models.Branch{}, apperrors.NotFound("prompt has no live branch")
		}

		live, err := scanBranch(tx.QueryRow(ctx,
			`SELECT `+branchColumns+` FROM branches WHERE id = $1`, *p.LiveBranchID))
		if err != nil {
			return models.Branch{}, fmt.Errorf("load live branch: %w", err)
		}
		if live.HeadVersionID == nil {
			return models.Branch{}, apperrors.NotFound("live branch %q has no head version", live.Name)
		}

		head, err := scanVersion(tx.QueryRow(ctx,
			`SELECT `+versionColumns+` FROM prompt_versions WHERE id = $1`, *live.HeadVersionID))
		if err != nil {
			return models.Branch{}, fmt.Errorf("load live head: %w", err)
		}

		branch, err := scanBranch(tx.QueryRow(ctx,
			`INSERT INTO branches (prompt_id, name, label) VALUES ($1, $2, $3) RETURNING `+branchColumns,
			promptID, name, label))
		if err != nil {
			return models.Branch{}, database.MapError(err, err,
				apperrors.Conflict("branch %q already exists", name))
		}

		// insertVersion picks up the new branch's empty head, so the parent
		// is set explicitly afterwards.
		v, err := s.insertVersion(ctx, tx, VersionInput{
			PromptID:        promptID,
			BranchID:        &branch.ID,
			Label:           label,
			SystemPrompt:    head.SystemPrompt,
			UserPrompt:      head.UserPrompt,
			VariablesSchema: head.VariablesSchema,
		})
		if err != nil {
			return models.Branch{}, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE prompt_versions SET parent_version_id = $1 WHERE id = $2`, head.ID, v.ID); err != nil {
			return models.Branch{}, fmt.Errorf("set fork parent: %w", err)
		}

		branch.HeadVersionID = &v.ID
		return branch, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	return &b, nil
}

// DeployBranch makes a branch live and points production at its head.
func (s *Service) DeployBranch(ctx context.Context, branchID uuid.UUID) (*models.Branch, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	b, ws, err := s.loadBranch(ctx, scope, branchID)
	if err != nil {
		return nil, err
	}
	if b.HeadVersionID == nil {
		return nil, apperrors.NotFound("branch %q has no head version", b.Name)
	}

	b2, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.Branch, error) {
		if _, err := s.loadPrompt(ctx, tx, scope, b.PromptID, true); err != nil {
			return models.Branch{}, err
		}
		// Re-read under the prompt lock; the head may have advanced.
		current, err := scanBranch(tx.QueryRow(ctx,
			`SELECT `+branchColumns+` FROM branches WHERE id = $1`, branchID))
		if err != nil {
			return models.Branch{}, database.MapError(err, apperrors.NotFound("branch not found"), err)
		}
		if current.HeadVersionID == nil {
			return models.Branch{}, apperrors.NotFound("branch %q has no head version", current.Name)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE prompts SET live_branch_id = $1, updated_at = now() WHERE id = $2`,
			branchID, current.PromptID); err != nil {
			return models.Branch{}, fmt.Errorf("set live branch: %w", err)
		}
		if _, err := s.bindEnvironment(ctx, tx, current.PromptID, *current.HeadVersionID, models.DefaultEnvironment); err != nil {
			return models.Branch{}, err
		}
		return current, nil
	})
	if err != nil {
		return nil, fmt.Errorf("deploy branch: %w", err)
	}

	s.invalidate(ctx, b.PromptID)
	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ws,
		Action:       audit.ActionDeployBranch,
		ResourceType: "branch",
		ResourceID:   &branchID,
		Details:      map[string]any{"prompt_id": b.PromptID, "head_version_id": b2.HeadVersionID},
	})
	return &b2, nil
}

func (s *Service) ListBranches(ctx context.Context, promptID uuid.UUID) ([]models.Branch, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadPrompt(ctx, s.db, scope, promptID, false); err != nil {
		return nil, err
	}
	return s.listBranches(ctx, promptID)
}

// loadBranch returns a branch visible in scope and its workspace.
func (s *Service) loadBranch(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.Branch, uuid.UUID, error) {
	var ws uuid.UUID
	var b models.Branch
	err := s.db.QueryRow(ctx,
		`SELECT p.workspace_id, b.id, b.prompt_id, b.name, b.label, b.head_version_id, b.created_at
		 FROM branches b JOIN prompts p ON p.id = b.prompt_id
		 WHERE b.id = $1`, id,
	).Scan(&ws, &b.ID, &b.PromptID, &b.Name, &b.Label, &b.HeadVersionID, &b.CreatedAt)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load branch: %w",
			database.MapError(err, apperrors.NotFound("branch not found"), err))
	}
	if !scope.Owns(ws) {
		return nil, uuid.Nil, apperrors.NotFound("branch not found")
	}
	return &b, ws, nil
}

func (s *Service) listBranches(ctx context.Context, promptID uuid.UUID) ([]models.Branch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE prompt_id = $1 ORDER BY created_at`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	branches := []models.Branch{}
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}
