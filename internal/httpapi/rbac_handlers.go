package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"accessmatrix.org/internal/audit"
	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createGrantRequest struct {
	EntityCode       string                      `json:"entity_code"`
	EntityInstanceID string                      `json:"entity_instance_id"`
	Level            permission.Level            `json:"level"`
	IsDeny           bool                        `json:"is_deny"`
	InheritanceMode  string                      `json:"inheritance_mode"`
	ChildOverrides   map[string]permission.Level `json:"child_overrides"`
	ExpiresAt        *time.Time                  `json:"expires_at"`
}

type updateGrantRequest struct {
	Level           *permission.Level           `json:"level"`
	IsDeny          *bool                       `json:"is_deny"`
	InheritanceMode *string                     `json:"inheritance_mode"`
	ChildOverrides  map[string]permission.Level `json:"child_overrides"`
	ExpiresAt       *time.Time                  `json:"expires_at"`
	ClearExpiry     bool                        `json:"clear_expiry"`
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	role, err := a.grants.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRoleCreated, map[string]any{"role_id": role.ID, "name": role.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.grants.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.grants.GetRole(r.Context(), r.PathValue("roleID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := r.PathValue("roleID")
	if err := a.grants.DeleteRole(r.Context(), roleID); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRoleDeleted, map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := a.grants.ListGrants(r.Context(), r.PathValue("roleID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (a *API) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	g, err := a.grants.CreateGrant(r.Context(), r.PathValue("roleID"), auth.GrantInput{
		EntityCode:       req.EntityCode,
		EntityInstanceID: req.EntityInstanceID,
		Level:            req.Level,
		IsDeny:           req.IsDeny,
		InheritanceMode:  permission.InheritanceMode(req.InheritanceMode),
		ChildOverrides:   req.ChildOverrides,
		ExpiresAt:        req.ExpiresAt,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditGrant(r.Context(), audit.EventGrantCreated, g)
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", g.ID))
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	g, err := a.grants.GetGrant(r.Context(), r.PathValue("grantID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleUpdateGrant(w http.ResponseWriter, r *http.Request) {
	var req updateGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	upd := auth.GrantUpdate{
		Level:          req.Level,
		IsDeny:         req.IsDeny,
		ChildOverrides: req.ChildOverrides,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiry:    req.ClearExpiry,
	}
	if req.InheritanceMode != nil {
		m := permission.InheritanceMode(*req.InheritanceMode)
		upd.InheritanceMode = &m
	}
	g, err := a.grants.UpdateGrant(r.Context(), r.PathValue("grantID"), upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditGrant(r.Context(), audit.EventGrantUpdated, g)
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	grantID := r.PathValue("grantID")
	g, err := a.grants.GetGrant(r.Context(), grantID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.grants.DeleteGrant(r.Context(), grantID); err != nil {
		handleError(w, r, err)
		return
	}
	a.auditGrant(r.Context(), audit.EventGrantDeleted, g)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Warn("audit log failed", map[string]any{"event": event, "error": err.Error()})
	}
}

func (a *API) auditGrant(ctx context.Context, event string, g permission.Grant) {
	if err := audit.LogGrant(ctx, event, g); err != nil {
		obs.Warn("audit log failed", map[string]any{"event": event, "error": err.Error()})
	}
}
