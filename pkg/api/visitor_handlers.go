package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/audit"
	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/contextkeys"
	"github.com/premisehq/premise/pkg/httputil"
	"github.com/premisehq/premise/pkg/observability"
	"github.com/premisehq/premise/pkg/visitors"
)

// requireBuilding runs the building access gate; on failure the response has
// already been written.
func (s *Server) requireBuilding(w http.ResponseWriter, r *http.Request) (uuid.UUID, *contextkeys.Identity, bool) {
	identity := contextkeys.IdentityFrom(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return uuid.Nil, nil, false
	}

	errs := &httputil.Errors{}
	buildingID, ok := pathUUID(r, "buildingID", errs)
	if !ok {
		errs.Write(w)
		return uuid.Nil, nil, false
	}

	allowed, err := s.gate.RequireBuildingAccessOrSuperAdmin(r.Context(), errs, buildingID, identity.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("access check failed")
		httputil.WriteInternalError(w)
		return uuid.Nil, nil, false
	}
	if !allowed {
		errs.Write(w)
		return uuid.Nil, nil, false
	}
	return buildingID, identity, true
}

func (s *Server) checkInVisitor(w http.ResponseWriter, r *http.Request) {
	buildingID, identity, ok := s.requireBuilding(w, r)
	if !ok {
		return
	}

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VisitorName == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "visitor_name is required")
		return
	}

	visit := &visitors.Visit{
		BuildingID:   buildingID,
		VisitorName:  req.VisitorName,
		VisitorEmail: req.VisitorEmail,
		HostName:     req.HostName,
	}
	if err := s.visitors.CheckIn(r.Context(), visit); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("visitor check-in failed")
		httputil.WriteInternalError(w)
		return
	}

	_ = audit.FromContext(r.Context()).Log(r.Context(), &audit.Event{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeVisitorCheckIn,
		Status:       audit.EventStatusSuccess,
		UserID:       &identity.UserID,
		ResourceType: "visit",
		ResourceID:   visit.ID.String(),
	})
	httputil.WriteCreated(w, visit)
}

func (s *Server) listActiveVisits(w http.ResponseWriter, r *http.Request) {
	buildingID, _, ok := s.requireBuilding(w, r)
	if !ok {
		return
	}

	visits, err := s.visitors.ListActive(r.Context(), buildingID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("list visits failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, visits)
}

func (s *Server) checkOutVisitor(w http.ResponseWriter, r *http.Request) {
	buildingID, identity, ok := s.requireBuilding(w, r)
	if !ok {
		return
	}

	errs := &httputil.Errors{}
	visitID, ok := pathUUID(r, "visitID", errs)
	if !ok {
		errs.Write(w)
		return
	}

	// Scope the update to the building the gate authorized.
	err := s.visitors.CheckOut(r.Context(), buildingID, visitID)
	if errors.Is(err, auth.ErrNotFound) {
		httputil.WriteNotFoundError(w, "visit not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("visitor check-out failed")
		httputil.WriteInternalError(w)
		return
	}

	_ = audit.FromContext(r.Context()).Log(r.Context(), &audit.Event{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeVisitorCheckOut,
		Status:       audit.EventStatusSuccess,
		UserID:       &identity.UserID,
		ResourceType: "visit",
		ResourceID:   visitID.String(),
	})
	httputil.WriteNoContent(w)
}
