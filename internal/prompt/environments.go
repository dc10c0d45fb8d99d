package prompt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

func liveKey(promptID uuid.UUID) string {
	return "live:" + promptID.String()
}

// liveGenKey counts invalidations of a prompt's live cache.
func liveGenKey(promptID uuid.UUID) string {
	return "live:gen:" + promptID.String()
}

// Deploy binds versionID to the environment slug of a prompt. Deploying to
// production also moves live_version_id.
func (s *Service) Deploy(ctx context.Context, promptID, versionID uuid.UUID, slug string) (*models.Environment, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if slug == "" {
		slug = models.DefaultEnvironment
	}
	if err := ValidateSlug("environment", slug); err != nil {
		return nil, err
	}

	var ws uuid.UUID
	env, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.Environment, error) {
		p, err := s.loadPrompt(ctx, tx, scope, promptID, true)
		if err != nil {
			return models.Environment{}, err
		}
		ws = p.WorkspaceID
		return s.bindEnvironment(ctx, tx, promptID, versionID, slug)
	})
	if err != nil {
		return nil, fmt.Errorf("deploy version: %w", err)
	}

	s.invalidate(ctx, promptID)
	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ws,
		Action:       audit.ActionDeploy,
		ResourceType: "prompt",
		ResourceID:   &promptID,
		Details:      map[string]any{"version_id": versionID, "environment": slug},
	})
	return &env, nil
}

// bindEnvironment expects the prompt row to be locked by the caller.
func (s *Service) bindEnvironment(ctx context.Context, tx pgx.Tx, promptID, versionID uuid.UUID, slug string) (models.Environment, error) {
	var owner uuid.UUID
	err := tx.QueryRow(ctx, `SELECT prompt_id FROM prompt_versions WHERE id = $1`, versionID).Scan(&owner)
	if err != nil {
		return models.Environment{}, database.MapError(err,
			apperrors.Validation("version %s does not exist", versionID), err)
	}
	if owner != promptID {
		return models.Environment{}, apperrors.Validation("version %s does not belong to this prompt", versionID)
	}

	env, err := scanEnvironment(tx.QueryRow(ctx,
		`INSERT INTO environments (prompt_id, slug, version_id, updated_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (prompt_id, slug)
		 DO UPDATE SET version_id = EXCLUDED.version_id, updated_by = EXCLUDED.updated_by, updated_at = now()
		 RETURNING `+environmentColumns,
		promptID, slug, versionID, tenant.ActorFromContext(ctx),
	))
	if err != nil {
		return models.Environment{}, fmt.Errorf("upsert environment: %w", err)
	}

	if slug == models.DefaultEnvironment {
		if _, err := tx.Exec(ctx,
			`UPDATE prompts SET live_version_id = $1, updated_at = now() WHERE id = $2`,
			versionID, promptID); err != nil {
			return models.Environment{}, fmt.Errorf("set live version: %w", err)
		}
	}
	return env, nil
}

// ResolveLive returns the literal templates currently deployed to slug. An
// environment binding wins over live_version_id.
func (s *Service) ResolveLive(ctx context.Context, promptID uuid.UUID, slug string) (*models.LiveContent, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if slug == "" {
		slug = models.DefaultEnvironment
	}

	key := liveKey(promptID)
	var content models.LiveContent
	hit, err := s.cache.HGet(ctx, key, slug, &content)
	if err != nil {
		slog.Warn("live cache read failed", "prompt_id", promptID, "error", err)
	}
	if !hit {
		v, err, _ := s.group.Do(key+"/"+slug, func() (any, error) {
			// The generation is read before the database so a deploy that
			// commits in between makes the fill below a no-op.
			gen, genErr := s.cache.Generation(ctx, liveGenKey(promptID))
			if genErr != nil {
				slog.Warn("live cache read failed", "prompt_id", promptID, "error", genErr)
			}
			c, err := s.loadLive(ctx, promptID, slug)
			if err != nil {
				return nil, err
			}
			if genErr == nil {
				if _, err := s.cache.HSetIfGeneration(ctx, liveGenKey(promptID), gen, key, slug, c, s.liveTTL); err != nil {
					slog.Warn("live cache write failed", "prompt_id", promptID, "error", err)
				}
			}
			return c, nil
		})
		if err != nil {
			return nil, err
		}
		content = *v.(*models.LiveContent)
	}

	if !scope.Owns(content.WorkspaceID) {
		return nil, apperrors.NotFound("prompt not found")
	}
	return &content, nil
}

func (s *Service) loadLive(ctx context.Context, promptID uuid.UUID, slug string) (*models.LiveContent, error) {
	c := models.LiveContent{PromptID: promptID, Environment: slug}
	err := s.db.QueryRow(ctx,
		`SELECT p.name, p.workspace_id, p.default_model,
		        v.id, v.number, v.label, v.system_prompt, v.user_prompt, v.variables_schema
		 FROM prompts p
		 JOIN prompt_versions v ON v.id = COALESCE(
		     (SELECT e.version_id FROM environments e WHERE e.prompt_id = p.id AND e.slug = $2),
		     p.live_version_id)
		 WHERE p.id = $1`,
		promptID, slug,
	).Scan(&c.PromptName, &c.WorkspaceID, &c.Model,
		&c.VersionID, &c.VersionNumber, &c.Label, &c.SystemPrompt, &c.UserPrompt, &c.VariablesSchema)
	if err != nil {
		return nil, database.MapError(err, apperrors.NotFound("no live version for prompt"), err)
	}
	return &c, nil
}

func (s *Service) ListEnvironments(ctx context.Context, promptID uuid.UUID) ([]models.Environment, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadPrompt(ctx, s.db, scope, promptID, false); err != nil {
		return nil, err
	}
	return s.listEnvironments(ctx, promptID)
}

// DeleteEnvironment removes a binding. Production cannot be removed.
func (s *Service) DeleteEnvironment(ctx context.Context, promptID uuid.UUID, slug string) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if slug == models.DefaultEnvironment {
		return apperrors.Conflict("the %s environment cannot be deleted", models.DefaultEnvironment)
	}
	p, err := s.loadPrompt(ctx, s.db, scope, promptID, false)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM environments WHERE prompt_id = $1 AND slug = $2`, promptID, slug)
	if err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("environment %q not found", slug)
	}

	s.invalidate(ctx, promptID)
	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  p.WorkspaceID,
		Action:       audit.ActionDeleteEnvironment,
		ResourceType: "prompt",
		ResourceID:   &promptID,
		Details:      map[string]any{"environment": slug},
	})
	return nil
}

func (s *Service) listEnvironments(ctx context.Context, promptID uuid.UUID) ([]models.Environment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE prompt_id = $1 ORDER BY slug`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	envs := []models.Environment{}
	for rows.Next() {
		e, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}
