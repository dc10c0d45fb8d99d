package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// WorkspaceHeader lets an admin act inside a single workspace.
const WorkspaceHeader = "X-Workspace-Id"

// Capabilities decides platform-level privileges for a signed-in user.
type Capabilities interface {
	CanBypassTenancy(u *models.User) bool
}

// UserFlagCapabilities grants the admin bypass to users flagged is_admin.
type UserFlagCapabilities struct{}

func (UserFlagCapabilities) CanBypassTenancy(u *models.User) bool {
	return u != nil && u.IsAdmin
}

// RequireAdmin rejects callers without the admin bypass.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := tenant.FromContext(r.Context())
		if id == nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		if !id.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WorkspaceOverride pins an admin identity to the workspace named in the
// X-Workspace-Id header. The header is ignored for everyone else.
func WorkspaceOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(WorkspaceHeader))
		id := tenant.FromContext(r.Context())
		if raw == "" || id == nil || !id.IsAdmin {
			next.ServeHTTP(w, r)
			return
		}

		ws, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+WorkspaceHeader+" header")
			return
		}

		pinned := *id
		pinned.Acting = &ws
		next.ServeHTTP(w, r.WithContext(tenant.WithIdentity(r.Context(), &pinned)))
	})
}
