// Package keys issues and manages the API keys clients use to call this
// service.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/auth"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

const keyColumns = `id, workspace_id, user_id, name, key_prefix, key_hash, is_admin, is_active,
	last_used_at, expires_at, created_at`

// displayPrefixLen is how much of a key is kept in clear for listing.
const displayPrefixLen = 8

type Service struct {
	db    *pgxpool.Pool
	audit *audit.Service
}

func NewService(db *pgxpool.Pool, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

type CreateRequest struct {
	Name      string
	IsAdmin   bool
	ExpiresAt *time.Time
}

// Created carries the plaintext key. It is only ever returned here.
type Created struct {
	models.APIKey
	Key string `json:"key"`
}

// Generate returns a new random key and its display prefix.
func Generate() (key, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	key = auth.KeyPrefix + hex.EncodeToString(buf)
	return key, key[:len(auth.KeyPrefix)+displayPrefixLen], nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := scope.Target()
	if err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if req.IsAdmin {
		if id := tenant.FromContext(ctx); !id.IsAdmin {
			return nil, apperrors.Forbidden("only admins can create admin keys")
		}
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		return nil, apperrors.Validation("expires_at must be in the future")
	}

	key, prefix, err := Generate()
	if err != nil {
		return nil, err
	}

	ak, err := scanKey(s.db.QueryRow(ctx,
		`INSERT INTO api_keys (workspace_id, user_id, name, key_prefix, key_hash, is_admin, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+keyColumns,
		ws, tenant.ActorFromContext(ctx), req.Name, prefix, auth.HashAPIKey(key), req.IsAdmin, req.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ws,
		Action:       audit.ActionCreateKey,
		ResourceType: "api_key",
		ResourceID:   &ak.ID,
		Details:      map[string]any{"name": ak.Name, "is_admin": ak.IsAdmin},
	})
	return &Created{APIKey: ak, Key: key}, nil
}

func (s *Service) List(ctx context.Context) ([]models.APIKey, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+keyColumns+` FROM api_keys
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		 ORDER BY created_at DESC`, scope.Filter())
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type UpdateRequest struct {
	Name     *string
	IsActive *bool
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.APIKey, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, apperrors.Validation("name cannot be empty")
	}
	if _, err := s.load(ctx, scope, id); err != nil {
		return nil, err
	}

	ak, err := scanKey(s.db.QueryRow(ctx,
		`UPDATE api_keys SET name = COALESCE($2, name), is_active = COALESCE($3, is_active)
		 WHERE id = $1 RETURNING `+keyColumns,
		id, req.Name, req.IsActive,
	))
	if err != nil {
		return nil, fmt.Errorf("update api key: %w", database.MapError(err, apperrors.NotFound("api key not found"), err))
	}
	return &ak, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	ak, err := s.load(ctx, scope, id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}

	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  ak.WorkspaceID,
		Action:       audit.ActionDeleteKey,
		ResourceType: "api_key",
		ResourceID:   &id,
		Details:      map[string]any{"name": ak.Name},
	})
	return nil
}

// FindByHash implements auth.KeyStore. It is not scoped: the caller has not
// been identified yet.
func (s *Service) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ak, err := scanKey(s.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if err != nil {
		return nil, database.MapError(err, apperrors.Unauthorized("invalid API key"), err)
	}
	return &ak, nil
}

func (s *Service) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

func (s *Service) load(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.APIKey, error) {
	ak, err := scanKey(s.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		return nil, database.MapError(err, apperrors.NotFound("api key not found"), err)
	}
	if !scope.Owns(ak.WorkspaceID) {
		return nil, apperrors.NotFound("api key not found")
	}
	return &ak, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.WorkspaceID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.IsAdmin,
		&k.IsActive, &k.LastUsedAt, &k.ExpiresAt, &k.CreatedAt)
	return k, err
}
