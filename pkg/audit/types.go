package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin             EventType = "auth.login"
	EventTypeAuthLoginFailed       EventType = "auth.login_failed"
	EventTypeAuthLogout            EventType = "auth.logout"
	EventTypeAuthTotpEnroll        EventType = "auth.totp_enroll"
	EventTypeAuthTotpDisable       EventType = "auth.totp_disable"
	EventTypeAuthPasswordResetInit EventType = "auth.password_reset_init"
	EventTypeAuthPasswordReset     EventType = "auth.password_reset"
	EventTypeAuthAccountLink       EventType = "auth.account_link"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"

	// Admin events
	EventTypeAdminUserUpdate       EventType = "admin.user_update"
	EventTypeAdminMemberRoleChange EventType = "admin.member_role_change"
	EventTypeAdminBuildingGrant    EventType = "admin.building_grant_change"

	// Visitor events
	EventTypeVisitorCheckIn  EventType = "visitor.check_in"
	EventTypeVisitorCheckOut EventType = "visitor.check_out"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry, keyed by
// (user, action, IP address, timestamp).
type Event struct {
	ID             int64       `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	EventType      EventType   `json:"event_type"`
	Status         EventStatus `json:"status"`
	UserID         *uuid.UUID  `json:"user_id,omitempty"`
	Email          string      `json:"email,omitempty"`
	OrganizationID *uuid.UUID  `json:"organization_id,omitempty"`
	ResourceType   string      `json:"resource_type,omitempty"`
	ResourceID     string      `json:"resource_id,omitempty"`
	IPAddress      string      `json:"ip_address,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// Authentication builds an authentication event
func Authentication(eventType EventType, userID *uuid.UUID, email, ip string, status EventStatus, message string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    userID,
		Email:     email,
		IPAddress: ip,
		Message:   message,
	}
}

// AccessDenied builds an authorization-denied event
func AccessDenied(userID *uuid.UUID, organizationID *uuid.UUID, resourceType, resourceID, message string) *Event {
	return &Event{
		Timestamp:      time.Now().UTC(),
		EventType:      EventTypeAuthzAccessDenied,
		Status:         EventStatusDenied,
		UserID:         userID,
		OrganizationID: organizationID,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Message:        message,
	}
}
