package api

import (
	"encoding/json"
	"net/http"

	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/contextkeys"
	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/middleware"
	"github.com/premisehq/premise/pkg/observability"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, token, err := s.auth.Login(r.Context(), req.Email, req.Password, req.TotpCode, middleware.ClientIP(r))
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("login failed")
		httputil.WriteInternalError(w)
		return
	}
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(result.String()).Inc()
		if result == auth.VerifyOk {
			s.metrics.SessionsIssued.Inc()
		}
	}

	status := http.StatusOK
	if result != auth.VerifyOk {
		status = http.StatusUnauthorized
	}
	httputil.WriteJSON(w, status, loginResponse{Result: loginWireResult(result), Token: token})
}

// loginWireResult collapses the outcomes that would reveal whether an account
// exists into one generic failure. TOTP and lockout outcomes are only
// reachable after a correct password, so they stay distinguishable.
func loginWireResult(result auth.VerifyCredentialsResult) string {
	switch result {
	case auth.VerifyUserDidNotExist, auth.VerifyNoAccess, auth.VerifyPasswordNotSet, auth.VerifyPasswordInvalid:
		return "invalid_credentials"
	default:
		return result.String()
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := s.auth.Logout(r.Context(), identity.SessionID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("logout failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) initTotpEnrollment(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	result, secret, uri, err := s.auth.InitTotpEnrollment(r.Context(), identity.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("totp enrollment failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.EnableTotpOk {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, totpEnrollResponse{Result: result.String(), Secret: secret, URI: uri})
}

func (s *Server) confirmTotpEnrollment(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req totpConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := s.auth.ConfirmTotpEnrollment(r.Context(), identity.UserID, req.Code)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("totp confirmation failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.EnableTotpOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) initDisableTotp(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	result, err := s.auth.InitDisableTotp(r.Context(), identity.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("disable totp init failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.DisableTotpOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) completeDisableTotp(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id and token are required")
		return
	}

	result, err := s.auth.DisableTotp(r.Context(), req.UserID, req.Token)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("disable totp failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.DisableTotpOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) revokeDisableTotp(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id and token are required")
		return
	}

	result, err := s.auth.RevokeDisableTotp(r.Context(), req.UserID, req.Token)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("disable totp revoke failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.DisableTotpOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) initForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "email is required")
		return
	}

	result, err := s.auth.InitForgotPassword(r.Context(), req.Email)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("forgot password init failed")
		httputil.WriteInternalError(w)
		return
	}
	// Always 200: the outcome is Ok whether or not the account exists.
	httputil.WriteJSON(w, http.StatusOK, resultResponse{Result: result.String()})
}

func (s *Server) checkForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id and token are required")
		return
	}

	result, err := s.auth.CheckForgotPasswordToken(r.Context(), req.UserID, req.Token)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("forgot password check failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.ForgotPasswordOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) completeForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id, token and new_password are required")
		return
	}

	result, err := s.auth.CompleteForgotPassword(r.Context(), req.UserID, req.Token, req.NewPassword)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("forgot password complete failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.ForgotPasswordOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) revokeForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id and token are required")
		return
	}

	result, err := s.auth.RevokeForgotPassword(r.Context(), req.UserID, req.Token)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("forgot password revoke failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.ForgotPasswordOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}

func (s *Server) completeLinkAccount(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "user_id and token are required")
		return
	}

	result, err := s.auth.CompleteLinkAccount(r.Context(), req.UserID, req.Token)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("link account failed")
		httputil.WriteInternalError(w)
		return
	}
	status := http.StatusOK
	if result != auth.LinkAccountOk {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resultResponse{Result: result.String()})
}
