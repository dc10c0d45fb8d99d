package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// Actions recorded in the audit log.
const (
	ActionDeploy            = "prompt.deploy"
	ActionDeployBranch      = "branch.deploy"
	ActionDeleteVersion     = "version.delete"
	ActionClearVersions     = "version.clear"
	ActionDeleteEnvironment = "environment.delete"
	ActionCreateKey         = "api_key.create"
	ActionDeleteKey         = "api_key.delete"
	ActionSetDefaultCred    = "credential.set_default"
	ActionDeleteExecutions  = "execution.delete"
)

type clientIPKey struct{}

// WithClientIP attaches the caller's address; Log uses it when an entry
// carries none.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	WorkspaceID  uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]any
	IPAddress    string
}

// Log writes entry attributed to the caller in ctx.
func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	var userID *uuid.UUID
	if id := tenant.FromContext(ctx); id != nil {
		userID = id.UserID
	}

	if entry.IPAddress == "" {
		entry.IPAddress, _ = ctx.Value(clientIPKey{}).(string)
	}

	var ws *uuid.UUID
	if entry.WorkspaceID != uuid.Nil {
		ws = &entry.WorkspaceID
	}

	details := []byte("{}")
	if entry.Details != nil {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_logs (workspace_id, user_id, action, resource_type, resource_id, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ws, userID, entry.Action, entry.ResourceType, entry.ResourceID, details, entry.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Record is Log for callers that must not fail because auditing did.
func (s *Service) Record(ctx context.Context, entry LogEntry) {
	if s == nil {
		return
	}
	if err := s.Log(ctx, entry); err != nil {
		slog.Error("failed to write audit log", "action", entry.Action, "error", err)
	}
}

type AuditQuery struct {
	WorkspaceID *uuid.UUID
	StartDate   *time.Time
	EndDate     *time.Time
	Action      string
	Limit       int
	Offset      int
}

func (s *Service) GetAuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}

	query := `SELECT id, workspace_id, user_id, action, resource_type, resource_id, details, ip_address, created_at
			  FROM audit_logs WHERE true`
	var args []any
	argIdx := 1

	if q.WorkspaceID != nil {
		query += fmt.Sprintf(" AND workspace_id = $%d", argIdx)
		args = append(args, *q.WorkspaceID)
		argIdx++
	}
	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceID, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
