package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/middleware"
	"github.com/premisehq/premise/pkg/observability"
	"github.com/premisehq/premise/pkg/orgs"
	"github.com/premisehq/premise/pkg/rbac"
	"github.com/premisehq/premise/pkg/sso"
	"github.com/premisehq/premise/pkg/visitors"
)

// Dependencies holds everything the server wires together
type Dependencies struct {
	Auth     *auth.Service
	Store    auth.Store
	Orgs     *orgs.Service
	Visitors *visitors.Service
	Gate     *rbac.Gate
	// SSO is nil when Azure sign-in is not configured
	SSO *sso.Service

	AuthMiddleware *middleware.AuthMiddleware
	LoginRateLimit *middleware.LoginRateLimitMiddleware
	Metrics        *observability.Metrics
	Logger         *observability.Logger
}

// Server represents the API server
type Server struct {
	router   *mux.Router
	auth     *auth.Service
	store    auth.Store
	orgs     *orgs.Service
	visitors *visitors.Service
	gate     *rbac.Gate
	sso      *sso.Service
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		auth:     deps.Auth,
		store:    deps.Store,
		orgs:     deps.Orgs,
		visitors: deps.Visitors,
		gate:     deps.Gate,
		sso:      deps.SSO,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	s.setupRoutes(deps)
	return s
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes(deps Dependencies) {
	// Registered on the router so the matched route template is available for
	// the path label.
	if deps.Metrics != nil {
		s.router.Use(deps.Metrics.Middleware(routeTemplate))
	}

	rateLimited := func(h http.HandlerFunc) http.Handler {
		if deps.LoginRateLimit == nil {
			return h
		}
		return deps.LoginRateLimit.Handler(h)
	}

	// Credential flows, reachable without a session
	s.router.Handle("/auth/login", rateLimited(s.login)).Methods("POST")
	s.router.Handle("/auth/forgot-password", rateLimited(s.initForgotPassword)).Methods("POST")
	s.router.HandleFunc("/auth/forgot-password/check", s.checkForgotPassword).Methods("POST")
	s.router.Handle("/auth/forgot-password/complete", rateLimited(s.completeForgotPassword)).Methods("POST")
	s.router.HandleFunc("/auth/forgot-password/revoke", s.revokeForgotPassword).Methods("POST")
	s.router.HandleFunc("/auth/totp/disable/complete", s.completeDisableTotp).Methods("POST")
	s.router.HandleFunc("/auth/totp/disable/revoke", s.revokeDisableTotp).Methods("POST")
	s.router.HandleFunc("/auth/link-account/complete", s.completeLinkAccount).Methods("POST")

	if s.sso != nil {
		s.router.HandleFunc("/auth/sso/azure/login", s.ssoLogin).Methods("GET")
		s.router.HandleFunc("/auth/sso/azure/callback", s.ssoCallback).Methods("GET")
	}

	// Session-scoped routes
	authed := s.router.NewRoute().Subrouter()
	if deps.AuthMiddleware != nil {
		authed.Use(deps.AuthMiddleware.Handler)
	}

	authed.HandleFunc("/auth/logout", s.logout).Methods("POST")
	authed.HandleFunc("/auth/totp/enroll", s.initTotpEnrollment).Methods("POST")
	authed.HandleFunc("/auth/totp/confirm", s.confirmTotpEnrollment).Methods("POST")
	authed.HandleFunc("/auth/totp/disable", s.initDisableTotp).Methods("POST")

	authed.HandleFunc("/organizations", s.createOrganization).Methods("POST")
	authed.HandleFunc("/organizations", s.listOrganizations).Methods("GET")
	authed.HandleFunc("/organizations/{orgID}", s.getOrganization).Methods("GET")
	authed.HandleFunc("/organizations/{orgID}/regions", s.createRegion).Methods("POST")
	authed.HandleFunc("/organizations/{orgID}/regions", s.listRegions).Methods("GET")
	authed.HandleFunc("/organizations/{orgID}/buildings", s.createBuilding).Methods("POST")
	authed.HandleFunc("/organizations/{orgID}/buildings", s.listBuildings).Methods("GET")
	authed.HandleFunc("/organizations/{orgID}/members", s.listMembers).Methods("GET")
	authed.HandleFunc("/organizations/{orgID}/members/{userID}", s.setMemberRole).Methods("PUT")
	authed.HandleFunc("/organizations/{orgID}/members/{userID}", s.removeMember).Methods("DELETE")
	authed.HandleFunc("/buildings/{buildingID}/access/{userID}", s.grantBuildingAccess).Methods("PUT")
	authed.HandleFunc("/buildings/{buildingID}/access/{userID}", s.revokeBuildingAccess).Methods("DELETE")

	authed.HandleFunc("/buildings/{buildingID}/visits", s.checkInVisitor).Methods("POST")
	authed.HandleFunc("/buildings/{buildingID}/visits", s.listActiveVisits).Methods("GET")
	authed.HandleFunc("/buildings/{buildingID}/visits/{visitID}/checkout", s.checkOutVisitor).Methods("POST")

	authed.HandleFunc("/users/{userID}", s.updateUser).Methods("PUT")
}

// routeTemplate labels request metrics with the matched route pattern rather
// than the raw URL, keeping label cardinality bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return ""
}

// pathUUID parses a UUID route variable, appending a fatal error on failure
func pathUUID(r *http.Request, name string, errs *httputil.Errors) (uuid.UUID, bool) {
	parsed, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		errs.AddFatal(name, "invalid identifier")
		return uuid.Nil, false
	}
	return parsed, true
}
