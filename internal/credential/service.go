// Package credential stores the upstream LLM provider keys of each
// workspace.
package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

const credentialColumns = `id, workspace_id, provider, name, encrypted_key, key_hint, is_default, created_at, updated_at`

var providers = []string{models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderOllama}

type Service struct {
	db    *pgxpool.Pool
	enc   *Encryptor
	audit *audit.Service
}

func NewService(db *pgxpool.Pool, enc *Encryptor, auditSvc *audit.Service) *Service {
	return &Service{db: db, enc: enc, audit: auditSvc}
}

type CreateRequest struct {
	Provider  string
	Name      string
	Key       string
	IsDefault bool
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.LLMCredential, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := scope.Target()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(providers, req.Provider) {
		return nil, apperrors.Validation("provider must be one of %s", strings.Join(providers, ", "))
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.Validation("name is required")
	}
	if req.Key == "" {
		return nil, apperrors.Validation("key is required")
	}

	sealed, err := s.enc.Encrypt(req.Key)
	if err != nil {
		return nil, err
	}

	c, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.LLMCredential, error) {
		c, err := scanCredential(tx.QueryRow(ctx,
			`INSERT INTO llm_credentials (workspace_id, provider, name, encrypted_key, key_hint)
			 VALUES ($1, $2, $3, $4, $5) RETURNING `+credentialColumns,
			ws, req.Provider, strings.TrimSpace(req.Name), sealed, Hint(req.Key),
		))
		if err != nil {
			return models.LLMCredential{}, fmt.Errorf("insert credential: %w", err)
		}
		if req.IsDefault {
			return setDefault(ctx, tx, c)
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return &c, nil
}

func (s *Service) List(ctx context.Context) ([]models.LLMCredential, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+credentialColumns+` FROM llm_credentials
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		 ORDER BY provider, created_at`, scope.Filter())
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []models.LLMCredential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

type UpdateRequest struct {
	Name *string
	Key  *string
}

// Update renames a credential or rotates its key.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.LLMCredential, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, s.db, scope, id); err != nil {
		return nil, err
	}

	var sealed, hint *string
	if req.Key != nil {
		if *req.Key == "" {
			return nil, apperrors.Validation("key cannot be empty")
		}
		enc, err := s.enc.Encrypt(*req.Key)
		if err != nil {
			return nil, err
		}
		h := Hint(*req.Key)
		sealed, hint = &enc, &h
	}

	c, err := scanCredential(s.db.QueryRow(ctx,
		`UPDATE llm_credentials SET
		   name = COALESCE($2, name),
		   encrypted_key = COALESCE($3, encrypted_key),
		   key_hint = COALESCE($4, key_hint),
		   updated_at = now()
		 WHERE id = $1 RETURNING `+credentialColumns,
		id, req.Name, sealed, hint,
	))
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return &c, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := s.load(ctx, s.db, scope, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM llm_credentials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// SetDefault makes a credential the default for its provider, clearing the
// previous default in the same transaction.
func (s *Service) SetDefault(ctx context.Context, id uuid.UUID) (*models.LLMCredential, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	c, err := database.WithTx(ctx, s.db, func(tx pgx.Tx) (models.LLMCredential, error) {
		c, err := s.load(ctx, tx, scope, id)
		if err != nil {
			return models.LLMCredential{}, err
		}
		return setDefault(ctx, tx, *c)
	})
	if err != nil {
		return nil, fmt.Errorf("set default credential: %w", err)
	}

	s.audit.Record(ctx, audit.LogEntry{
		WorkspaceID:  c.WorkspaceID,
		Action:       audit.ActionSetDefaultCred,
		ResourceType: "llm_credential",
		ResourceID:   &c.ID,
		Details:      map[string]any{"provider": c.Provider},
	})
	return &c, nil
}

func setDefault(ctx context.Context, tx pgx.Tx, c models.LLMCredential) (models.LLMCredential, error) {
	if _, err := tx.Exec(ctx,
		`UPDATE llm_credentials SET is_default = false, updated_at = now()
		 WHERE workspace_id = $1 AND provider = $2 AND is_default AND id <> $3`,
		c.WorkspaceID, c.Provider, c.ID); err != nil {
		return models.LLMCredential{}, fmt.Errorf("clear previous default: %w", err)
	}
	return scanCredential(tx.QueryRow(ctx,
		`UPDATE llm_credentials SET is_default = true, updated_at = now()
		 WHERE id = $1 RETURNING `+credentialColumns, c.ID))
}

// DefaultKey returns the decrypted default key of a workspace for provider,
// or "" when there is none.
func (s *Service) DefaultKey(ctx context.Context, workspaceID uuid.UUID, provider string) (string, error) {
	var sealed string
	err := s.db.QueryRow(ctx,
		`SELECT encrypted_key FROM llm_credentials WHERE workspace_id = $1 AND provider = $2 AND is_default`,
		workspaceID, provider,
	).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load default credential: %w", err)
	}
	return s.enc.Decrypt(sealed)
}

func (s *Service) load(ctx context.Context, q database.Querier, scope tenant.Scope, id uuid.UUID) (*models.LLMCredential, error) {
	c, err := scanCredential(q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM llm_credentials WHERE id = $1`, id))
	if err != nil {
		return nil, database.MapError(err, apperrors.NotFound("credential not found"), err)
	}
	if !scope.Owns(c.WorkspaceID) {
		return nil, apperrors.NotFound("credential not found")
	}
	return &c, nil
}

func scanCredential(row pgx.Row) (models.LLMCredential, error) {
	var c models.LLMCredential
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Provider, &c.Name, &c.EncryptedKey, &c.KeyHint, &c.IsDefault,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}
