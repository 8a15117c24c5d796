package api

import (
	"github.com/google/uuid"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TotpCode string `json:"totp_code,omitempty"`
}

type loginResponse struct {
	Result string `json:"result"`
	Token  string `json:"token,omitempty"`
}

type resultResponse struct {
	Result string `json:"result"`
}

type totpEnrollResponse struct {
	Result string `json:"result"`
	Secret string `json:"secret,omitempty"`
	URI    string `json:"uri,omitempty"`
}

type totpConfirmRequest struct {
	Code string `json:"code"`
}

type tokenRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Token  string    `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type forgotPasswordCompleteRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	Token       string    `json:"token"`
	NewPassword string    `json:"new_password"`
}

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type createRegionRequest struct {
	Name string `json:"name"`
}

type createBuildingRequest struct {
	Name     string     `json:"name"`
	Address  string     `json:"address,omitempty"`
	RegionID *uuid.UUID `json:"region_id,omitempty"`
}

type setMemberRoleRequest struct {
	Role string `json:"role"`
}

type updateUserRequest struct {
	Email          string `json:"email"`
	SystemRole     string `json:"system_role"`
	Disabled       bool   `json:"disabled"`
	ConcurrencyKey []byte `json:"concurrency_key"`
}

type checkInRequest struct {
	VisitorName  string `json:"visitor_name"`
	VisitorEmail string `json:"visitor_email,omitempty"`
	HostName     string `json:"host_name,omitempty"`
}
