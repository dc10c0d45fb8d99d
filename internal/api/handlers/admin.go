package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

type AdminHandler struct {
	auditSvc *audit.Service
	tenants  *tenant.Service
}

func NewAdminHandler(auditSvc *audit.Service, tenants *tenant.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc, tenants: tenants}
}

func (h *AdminHandler) Workspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.tenants.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"workspaces": list})
}

func (h *AdminHandler) Workspace(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ws, err := h.tenants.GetWorkspace(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ws)
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *AdminHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ws, err := h.tenants.CreateWorkspace(r.Context(), req.Name, req.Slug)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ws)
}

// AuditLogs lists audit entries across workspaces, optionally narrowed by
// workspace_id, action and a time range.
func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.AuditQuery{Action: r.URL.Query().Get("action")}
	q.Limit, q.Offset = pagination(r, 50)

	var err error
	if q.WorkspaceID, err = queryUUID(r, "workspace_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if q.StartDate, err = queryTime(r, "start_date"); err != nil {
		writeError(w, r, err)
		return
	}
	if q.EndDate, err = queryTime(r, "end_date"); err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := h.auditSvc.GetAuditLogs(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "count": len(logs)})
}
