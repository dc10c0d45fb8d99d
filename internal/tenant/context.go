package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

// Ways an identity can be established.
const (
	ViaAPIKey  = "api_key"
	ViaSession = "session"
	ViaSystem  = "system"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      *uuid.UUID
	WorkspaceID uuid.UUID
	IsAdmin     bool
	Via         string
	APIKeyID    *uuid.UUID

	// Acting is the workspace an admin pinned with X-Workspace-Id.
	Acting *uuid.UUID
}

// Scope limits what a request can see. Workspace-scoped rows outside the
// scope are treated as missing.
type Scope struct {
	WorkspaceID uuid.UUID
	Bypass      bool
}

// Owns reports whether a row belonging to ws is visible in this scope.
func (s Scope) Owns(ws uuid.UUID) bool {
	return s.Bypass || s.WorkspaceID == ws
}

// Filter returns the workspace to filter list queries by, or nil when the
// scope spans every workspace.
func (s Scope) Filter() *uuid.UUID {
	if s.Bypass {
		return nil
	}
	ws := s.WorkspaceID
	return &ws
}

// Target returns the workspace new rows are written to.
func (s Scope) Target() (uuid.UUID, error) {
	if s.WorkspaceID == uuid.Nil {
		return uuid.Nil, apperrors.Validation("workspace is required: set the X-Workspace-Id header")
	}
	return s.WorkspaceID, nil
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// ActorFromContext returns the calling user, if any.
func ActorFromContext(ctx context.Context) *uuid.UUID {
	if id := FromContext(ctx); id != nil {
		return id.UserID
	}
	return nil
}

// ScopeFromContext derives the scope of the current request. Admins that
// pinned a workspace are confined to it; other admins see everything.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	id := FromContext(ctx)
	if id == nil {
		return Scope{}, apperrors.Unauthorized("authentication required")
	}
	if id.IsAdmin {
		if id.Acting != nil {
			return Scope{WorkspaceID: *id.Acting}, nil
		}
		return Scope{WorkspaceID: id.WorkspaceID, Bypass: true}, nil
	}
	return Scope{WorkspaceID: id.WorkspaceID}, nil
}
