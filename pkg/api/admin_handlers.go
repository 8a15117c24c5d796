package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/contextkeys"
	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/observability"
)

// updateUser applies an admin edit to a user record. The request must carry
// the concurrency key from the record the admin read; a stale key returns
// 409 with the current record so the client can reconcile.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !identity.Master {
		httputil.WriteForbidden(w, "master role required")
		return
	}

	errs := &httputil.Errors{}
	userID, ok := pathUUID(r, "userID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		errs.Add("email", "email is required")
	}
	systemRole := auth.SystemRole(req.SystemRole)
	if systemRole != auth.SystemRoleNormal && systemRole != auth.SystemRoleMaster {
		errs.Add("systemRole", "unknown system role")
	}
	if len(req.ConcurrencyKey) == 0 {
		errs.Add("concurrencyKey", "concurrency key is required")
	}
	if errs.HasErrors() {
		errs.Write(w)
		return
	}

	user := &auth.User{
		ID:         userID,
		Email:      req.Email,
		SystemRole: systemRole,
		Disabled:   req.Disabled,
	}
	err := s.auth.UpdateUser(r.Context(), user, req.ConcurrencyKey)

	var conflict *auth.ConflictError
	if errors.As(err, &conflict) {
		httputil.WriteConflict(w, conflict.Current)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("user update failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, user)
}
