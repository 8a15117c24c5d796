package api

import (
	"net/http"
	"time"

	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/middleware"
	"github.com/premisehq/premise/pkg/observability"
	"github.com/premisehq/premise/pkg/sso"
)

const ssoStateCookie = "premise_sso_state"

func (s *Server) ssoLogin(w http.ResponseWriter, r *http.Request) {
	state, err := sso.NewState()
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("sso state generation failed")
		httputil.WriteInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ssoStateCookie,
		Value:    state,
		Path:     "/auth/sso/azure",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.sso.Provider().InitiateLogin(w, r, state)
}

func (s *Server) ssoCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(ssoStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "state mismatch")
		return
	}
	// One shot per state
	http.SetCookie(w, &http.Cookie{
		Name:     ssoStateCookie,
		Value:    "",
		Path:     "/auth/sso/azure",
		MaxAge:   -1,
		HttpOnly: true,
	})

	outcome, token, err := s.sso.Complete(r.Context(), r.URL.Query().Get("code"), middleware.ClientIP(r))
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("sso callback failed")
		httputil.WriteInternalError(w)
		return
	}

	switch outcome {
	case sso.LoginOk:
		httputil.WriteJSON(w, http.StatusOK, loginResponse{Result: "ok", Token: token})
	case sso.LoginLinkStarted:
		// 202: the sign-in is pending until the emailed link is confirmed
		httputil.WriteAccepted(w, resultResponse{Result: "link_started"})
	default:
		httputil.WriteJSON(w, http.StatusUnauthorized, resultResponse{Result: "no_access"})
	}
}
