// Package input stores raw client texts (reviews, transcripts, tickets)
// that evaluation datasets are built from.
package input

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
	"github.com/nikhilbhutani/promptdeck/pkg/textextract"
)

const inputColumns = `id, workspace_id, client, type, content, source, created_at`

const defaultType = "input"

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type BulkRequest struct {
	Client   string   `json:"client"`
	Type     string   `json:"type"`
	Contents []string `json:"contents"`
	Source   string   `json:"source"`
}

// CreateBulk stores one input per non-blank content, in order.
func (s *Service) CreateBulk(ctx context.Context, req BulkRequest) ([]models.ClientInput, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := scope.Target()
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = defaultType
	}

	contents := make([]string, 0, len(req.Contents))
	for _, c := range req.Contents {
		if c = strings.TrimSpace(c); c != "" {
			contents = append(contents, c)
		}
	}
	if len(contents) == 0 {
		return nil, apperrors.Validation("contents must contain at least one non-empty entry")
	}

	return database.WithTx(ctx, s.db, func(tx pgx.Tx) ([]models.ClientInput, error) {
		created := make([]models.ClientInput, 0, len(contents))
		for _, c := range contents {
			in, err := scanInput(tx.QueryRow(ctx,
				`INSERT INTO client_inputs (workspace_id, client, type, content, source)
				 VALUES ($1, $2, $3, $4, $5) RETURNING `+inputColumns,
				ws, req.Client, req.Type, c, req.Source,
			))
			if err != nil {
				return nil, fmt.Errorf("insert client input: %w", err)
			}
			created = append(created, in)
		}
		return created, nil
	})
}

// Import splits an uploaded file into segments and stores each as an input.
func (s *Service) Import(ctx context.Context, filename, contentType string, data []byte, client, inputType string) ([]models.ClientInput, error) {
	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), textextract.TypeOf(filename, contentType))
	if err != nil {
		return nil, apperrors.Validation("cannot read %s: %v", filename, err)
	}
	if len(extracted.Segments) == 0 {
		return nil, apperrors.Validation("%s contains no text", filename)
	}

	return s.CreateBulk(ctx, BulkRequest{
		Client:   client,
		Type:     inputType,
		Contents: extracted.Segments,
		Source:   filename,
	})
}

type ListQuery struct {
	Type   string
	Client string
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]models.ClientInput, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+inputColumns+` FROM client_inputs
		 WHERE ($1::uuid IS NULL OR workspace_id = $1)
		   AND ($2::text = '' OR type = $2)
		   AND ($3::text = '' OR client = $3)
		 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		scope.Filter(), q.Type, q.Client, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list client inputs: %w", err)
	}
	defer rows.Close()

	inputs := []models.ClientInput{}
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client input: %w", err)
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM client_inputs WHERE id = $1 AND ($2::uuid IS NULL OR workspace_id = $2)`,
		id, scope.Filter())
	if err != nil {
		return fmt.Errorf("delete client input: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("input not found")
	}
	return nil
}

func scanInput(row pgx.Row) (models.ClientInput, error) {
	var in models.ClientInput
	err := row.Scan(&in.ID, &in.WorkspaceID, &in.Client, &in.Type, &in.Content, &in.Source, &in.CreatedAt)
	return in, err
}
