package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// TripRepository reads the trip catalog
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

// GetByID returns the trip with its operating company name, or
// models.ErrTripNotFound
func (r *TripRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	query := `
		SELECT t.id, t.company_id, c.name AS company_name, t.route_name,
		       t.origin, t.destination, t.departure_time, t.arrival_time,
		       t.vehicle_plate, t.status
		FROM trips t
		JOIN companies c ON c.id = t.company_id
		WHERE t.id = $1`

	var trip models.Trip
	if err := r.db.GetContext(ctx, &trip, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTripNotFound
		}
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}
