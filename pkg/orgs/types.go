package orgs

import (
	"time"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/auth"
)

// Organization is a tenant
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Region groups buildings within an organization
type Region struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Building is a physical site belonging to an organization
type Building struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	RegionID       *uuid.UUID `json:"region_id,omitempty"`
	Name           string     `json:"name"`
	Address        string     `json:"address,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Member is a user's role assignment within an organization
type Member struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           auth.Role `json:"role"`
	AddedAt        time.Time `json:"added_at"`
}

// BuildingGrant is an explicit per-building access grant
type BuildingGrant struct {
	UserID     uuid.UUID `json:"user_id"`
	BuildingID uuid.UUID `json:"building_id"`
	GrantedAt  time.Time `json:"granted_at"`
}
