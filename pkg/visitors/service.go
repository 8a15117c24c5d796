// Package visitors implements visitor check-in and check-out for a
// building: a thin validate-query-respond layer over the visits table.
package visitors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/auth"
)

// Visit is a visitor's presence in a building
type Visit struct {
	ID           uuid.UUID  `json:"id"`
	BuildingID   uuid.UUID  `json:"building_id"`
	VisitorName  string     `json:"visitor_name"`
	VisitorEmail string     `json:"visitor_email,omitempty"`
	HostName     string     `json:"host_name,omitempty"`
	CheckedInAt  time.Time  `json:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
}

// Service implements visitor flows on PostgreSQL
type Service struct {
	db *sql.DB
}

// NewService creates a visitors service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CheckIn records a visitor arriving at a building
func (s *Service) CheckIn(ctx context.Context, visit *Visit) error {
	if visit.ID == uuid.Nil {
		visit.ID = uuid.New()
	}
	query := `
		INSERT INTO visits (id, building_id, visitor_name, visitor_email, host_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING checked_in_at
	`
	err := s.db.QueryRowContext(ctx, query,
		visit.ID, visit.BuildingID, visit.VisitorName, visit.VisitorEmail, visit.HostName).
		Scan(&visit.CheckedInAt)
	if err != nil {
		return fmt.Errorf("failed to check in visitor: %w", err)
	}
	return nil
}

// CheckOut records a visitor leaving. The visit must belong to the given
// building; an unknown, already checked-out, or other-building visit returns
// ErrNotFound.
func (s *Service) CheckOut(ctx context.Context, buildingID, visitID uuid.UUID) error {
	query := `UPDATE visits SET checked_out_at = NOW() WHERE id = $1 AND building_id = $2 AND checked_out_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, visitID, buildingID)
	if err != nil {
		return fmt.Errorf("failed to check out visitor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// ListActive lists visitors currently checked in to a building
func (s *Service) ListActive(ctx context.Context, buildingID uuid.UUID) ([]*Visit, error) {
	query := `
		SELECT id, building_id, visitor_name, visitor_email, host_name, checked_in_at, checked_out_at
		FROM visits
		WHERE building_id = $1 AND checked_out_at IS NULL
		ORDER BY checked_in_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active visits: %w", err)
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		visit := &Visit{}
		if err := rows.Scan(
			&visit.ID, &visit.BuildingID, &visit.VisitorName, &visit.VisitorEmail,
			&visit.HostName, &visit.CheckedInAt, &visit.CheckedOutAt); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, visit)
	}
	return visits, rows.Err()
}

// Migrate creates the visits table if it does not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS visits (
			id UUID PRIMARY KEY,
			building_id UUID NOT NULL,
			visitor_name VARCHAR(255) NOT NULL,
			visitor_email VARCHAR(254) NOT NULL DEFAULT '',
			host_name VARCHAR(255) NOT NULL DEFAULT '',
			checked_in_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			checked_out_at TIMESTAMP WITH TIME ZONE
		)
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to run visits migration: %w", err)
	}
	return nil
}
