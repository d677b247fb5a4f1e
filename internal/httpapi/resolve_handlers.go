package httpapi

import (
	"fmt"
	"net/http"

	"accessmatrix.org/internal/auth"
	"accessmatrix.org/internal/obs"
	"accessmatrix.org/internal/permission"
)

type resolveRequest struct {
	Pending []permission.EditInput `json:"pending"`
}

type resolveResponse struct {
	RoleID      string                  `json:"role_id"`
	Resolutions []permission.Resolution `json:"resolutions"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, r, err)
			return
		}
	}
	edits, err := permission.BuildPendingEdits(req.Pending)
	if err != nil {
		handleError(w, r, fmt.Errorf("%w: %w", auth.ErrInvalidInput, err))
		return
	}
	roleID := r.PathValue("roleID")
	resolutions, err := a.grants.ResolveRole(r.Context(), roleID, edits)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{RoleID: roleID, Resolutions: resolutions})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req permission.AccessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	roleID := r.PathValue("roleID")
	d, err := a.grants.Check(r.Context(), roleID, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if d.Denied {
		obs.Info("access denied by grant", map[string]any{
			"request_id":  RequestIDFromContext(r.Context()),
			"role_id":     roleID,
			"entity_code": req.EntityCode,
			"instance_id": req.InstanceID,
			"grant_id":    d.GrantID,
		})
	}
	writeJSON(w, http.StatusOK, d)
}
