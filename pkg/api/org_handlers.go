package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/contextkeys"
	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/observability"
	"github.com/premisehq/premise/pkg/orgs"
)

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	// Tenants are provisioned by masters only
	if !identity.Master {
		httputil.WriteForbidden(w, "master role required")
		return
	}

	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	org := &orgs.Organization{Name: req.Name}
	if err := s.orgs.CreateOrganization(r.Context(), org); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("create organization failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, org)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	list, err := s.orgs.ListOrganizationsForUser(r.Context(), identity.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("list organizations failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleUser)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	org, err := s.orgs.GetOrganization(r.Context(), orgID)
	if errors.Is(err, auth.ErrNotFound) {
		httputil.WriteNotFoundError(w, "organization not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("get organization failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) createRegion(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	var req createRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	region := &orgs.Region{OrganizationID: orgID, Name: req.Name}
	if err := s.orgs.CreateRegion(r.Context(), region); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("create region failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, region)
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleUser)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	regions, err := s.orgs.ListRegions(r.Context(), orgID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("list regions failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, regions)
}

func (s *Server) createBuilding(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	var req createBuildingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	building := &orgs.Building{
		OrganizationID: orgID,
		RegionID:       req.RegionID,
		Name:           req.Name,
		Address:        req.Address,
	}
	if err := s.orgs.CreateBuilding(r.Context(), building); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("create building failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, building)
}

func (s *Server) listBuildings(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleUser)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	buildings, err := s.orgs.ListBuildings(r.Context(), orgID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("list buildings failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, buildings)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	members, err := s.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("list members failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (s *Server) setMemberRole(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}
	userID, ok := pathUUID(r, "userID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	var req setMemberRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		errs.Add("role", "unknown role")
		errs.Write(w)
		return
	}

	if err := s.orgs.SetMemberRole(r.Context(), orgID, userID, role); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("set member role failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	orgID, ok := pathUUID(r, "orgID", errs)
	if !ok {
		errs.Write(w)
		return
	}
	userID, ok := pathUUID(r, "userID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, orgID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	if err := s.orgs.RemoveMember(r.Context(), orgID, userID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("remove member failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) grantBuildingAccess(w http.ResponseWriter, r *http.Request) {
	s.changeBuildingAccess(w, r, true)
}

func (s *Server) revokeBuildingAccess(w http.ResponseWriter, r *http.Request) {
	s.changeBuildingAccess(w, r, false)
}

func (s *Server) changeBuildingAccess(w http.ResponseWriter, r *http.Request, grant bool) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	errs := &httputil.Errors{}
	buildingID, ok := pathUUID(r, "buildingID", errs)
	if !ok {
		errs.Write(w)
		return
	}
	userID, ok := pathUUID(r, "userID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	organizationID, found, err := s.orgs.BuildingOrganization(r.Context(), buildingID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("building lookup failed")
		httputil.WriteInternalError(w)
		return
	}
	if !found {
		errs.AddFatal("buildingId", "building not found")
		errs.Write(w)
		return
	}

	allowed, err := s.gate.RequireMasterOrOrganizationRole(r.Context(), errs, organizationID, identity.UserID, auth.RoleAdmin)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return
	}
	if !allowed {
		errs.Write(w)
		return
	}

	if grant {
		err = s.orgs.GrantBuildingAccess(r.Context(), buildingID, userID)
	} else {
		err = s.orgs.RevokeBuildingAccess(r.Context(), buildingID, userID)
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("building access change failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
