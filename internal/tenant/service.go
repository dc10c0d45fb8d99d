package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	var w models.Workspace
	err := s.db.QueryRow(ctx,
		"SELECT id, name, slug, created_at FROM workspaces WHERE id = $1", id,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w",
			database.MapError(err, apperrors.NotFound("workspace not found"), err))
	}
	return &w, nil
}

func (s *Service) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, slug, created_at FROM workspaces ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		var w models.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Service) CreateWorkspace(ctx context.Context, name, slug string) (*models.Workspace, error) {
	if name == "" || slug == "" {
		return nil, apperrors.Validation("name and slug are required")
	}

	var w models.Workspace
	err := s.db.QueryRow(ctx,
		`INSERT INTO workspaces (name, slug) VALUES ($1, $2)
		 RETURNING id, name, slug, created_at`,
		name, slug,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w",
			database.MapError(err, err, apperrors.Conflict("workspace slug %q already exists", slug)))
	}
	return &w, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		"SELECT id, workspace_id, email, full_name, is_admin, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.WorkspaceID, &u.Email, &u.FullName, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w",
			database.MapError(err, apperrors.NotFound("user not found"), err))
	}
	return &u, nil
}
