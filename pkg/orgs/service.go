// Package orgs manages organizations, regions, buildings, membership and
// building-access grants. Every role-changing mutation invalidates the
// matching auth-cache keys before returning.
package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/auth"
)

// CacheInvalidator is the slice of the role resolver the service needs
type CacheInvalidator interface {
	InvalidateOrganizationRole(userID, organizationID uuid.UUID)
	InvalidateBuildingGrant(userID, buildingID uuid.UUID)
}

// Service implements organization, region and building management on
// PostgreSQL.
type Service struct {
	db          *sql.DB
	invalidator CacheInvalidator
}

// NewService creates an orgs service
func NewService(db *sql.DB, invalidator CacheInvalidator) *Service {
	return &Service{db: db, invalidator: invalidator}
}

// CreateOrganization creates a new organization
func (s *Service) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	query := `
		INSERT INTO organizations (id, name)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, org.ID, org.Name).Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by id
func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT id, name, created_at, updated_at FROM organizations WHERE id = $1`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizationsForUser lists organizations where the user has any role
func (s *Service) ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members om ON o.id = om.organization_id
		WHERE om.user_id = $1 AND om.role > 0
		ORDER BY o.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org := &Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// OrganizationExists reports whether the organization exists
func (s *Service) OrganizationExists(ctx context.Context, organizationID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`
	if err := s.db.QueryRowContext(ctx, query, organizationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return exists, nil
}

// CreateRegion creates a region within an organization
func (s *Service) CreateRegion(ctx context.Context, region *Region) error {
	if region.ID == uuid.Nil {
		region.ID = uuid.New()
	}
	query := `
		INSERT INTO regions (id, organization_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query, region.ID, region.OrganizationID, region.Name).Scan(&region.CreatedAt); err != nil {
		return fmt.Errorf("failed to create region: %w", err)
	}
	return nil
}

// ListRegions lists regions of an organization
func (s *Service) ListRegions(ctx context.Context, organizationID uuid.UUID) ([]*Region, error) {
	query := `SELECT id, organization_id, name, created_at FROM regions WHERE organization_id = $1 ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var regions []*Region
	for rows.Next() {
		region := &Region{}
		if err := rows.Scan(&region.ID, &region.OrganizationID, &region.Name, &region.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// CreateBuilding creates a building within an organization
func (s *Service) CreateBuilding(ctx context.Context, building *Building) error {
	if building.ID == uuid.Nil {
		building.ID = uuid.New()
	}
	query := `
		INSERT INTO buildings (id, organization_id, region_id, name, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		building.ID, building.OrganizationID, building.RegionID, building.Name, building.Address).
		Scan(&building.CreatedAt, &building.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create building: %w", err)
	}
	return nil
}

// GetBuilding retrieves a building by id
func (s *Service) GetBuilding(ctx context.Context, id uuid.UUID) (*Building, error) {
	query := `SELECT id, organization_id, region_id, name, address, created_at, updated_at FROM buildings WHERE id = $1`
	building := &Building{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&building.ID, &building.OrganizationID, &building.RegionID,
		&building.Name, &building.Address, &building.CreatedAt, &building.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get building: %w", err)
	}
	return building, nil
}

// ListBuildings lists buildings of an organization
func (s *Service) ListBuildings(ctx context.Context, organizationID uuid.UUID) ([]*Building, error) {
	query := `
		SELECT id, organization_id, region_id, name, address, created_at, updated_at
		FROM buildings WHERE organization_id = $1 ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buildings: %w", err)
	}
	defer rows.Close()

	var buildings []*Building
	for rows.Next() {
		building := &Building{}
		if err := rows.Scan(
			&building.ID, &building.OrganizationID, &building.RegionID,
			&building.Name, &building.Address, &building.CreatedAt, &building.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan building: %w", err)
		}
		buildings = append(buildings, building)
	}
	return buildings, rows.Err()
}

// BuildingOrganization returns the owning organization of a building
func (s *Service) BuildingOrganization(ctx context.Context, buildingID uuid.UUID) (uuid.UUID, bool, error) {
	query := `SELECT organization_id FROM buildings WHERE id = $1`
	var organizationID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, buildingID).Scan(&organizationID)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to get building organization: %w", err)
	}
	return organizationID, true, nil
}

// SetMemberRole creates or updates a user's role in an organization and
// drops the cached resolution before returning.
func (s *Service) SetMemberRole(ctx context.Context, organizationID, userID uuid.UUID, role auth.Role) error {
	if role < auth.RoleNoAccess {
		return fmt.Errorf("invalid role %d", role)
	}
	query := `
		INSERT INTO organization_members (user_id, organization_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, organization_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := s.db.ExecContext(ctx, query, userID, organizationID, int(role)); err != nil {
		return fmt.Errorf("failed to set member role: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateOrganizationRole(userID, organizationID)
	}
	return nil
}

// RemoveMember removes a user from an organization
func (s *Service) RemoveMember(ctx context.Context, organizationID, userID uuid.UUID) error {
	query := `DELETE FROM organization_members WHERE user_id = $1 AND organization_id = $2`
	if _, err := s.db.ExecContext(ctx, query, userID, organizationID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateOrganizationRole(userID, organizationID)
	}
	return nil
}

// ListMembers lists the role assignments of an organization
func (s *Service) ListMembers(ctx context.Context, organizationID uuid.UUID) ([]*Member, error) {
	query := `
		SELECT user_id, organization_id, role, added_at
		FROM organization_members WHERE organization_id = $1 ORDER BY added_at
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var role int
		if err := rows.Scan(&member.UserID, &member.OrganizationID, &role, &member.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Role = auth.Role(role)
		members = append(members, member)
	}
	return members, rows.Err()
}

// GrantBuildingAccess grants a user explicit access to a building
func (s *Service) GrantBuildingAccess(ctx context.Context, buildingID, userID uuid.UUID) error {
	query := `
		INSERT INTO building_access (user_id, building_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, building_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, buildingID); err != nil {
		return fmt.Errorf("failed to grant building access: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateBuildingGrant(userID, buildingID)
	}
	return nil
}

// RevokeBuildingAccess removes a user's explicit building grant
func (s *Service) RevokeBuildingAccess(ctx context.Context, buildingID, userID uuid.UUID) error {
	query := `DELETE FROM building_access WHERE user_id = $1 AND building_id = $2`
	if _, err := s.db.ExecContext(ctx, query, userID, buildingID); err != nil {
		return fmt.Errorf("failed to revoke building access: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateBuildingGrant(userID, buildingID)
	}
	return nil
}

// Migrate creates the organization tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS regions (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS buildings (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			region_id UUID REFERENCES regions(id) ON DELETE SET NULL,
			name VARCHAR(255) NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run orgs migration: %w", err)
		}
	}
	return nil
}
