package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// SeatLedgerRepository owns every status change of trip_seats. The mutating
// methods take the caller's transaction so the ledger change commits together
// with the booking row change.
type SeatLedgerRepository struct {
	db *sqlx.DB
}

// NewSeatLedgerRepository creates a new SeatLedgerRepository
func NewSeatLedgerRepository(db *sqlx.DB) *SeatLedgerRepository {
	return &SeatLedgerRepository{db: db}
}

const tripSeatColumns = `id, trip_id, floor, seat_number, seat_type, price, status, booking_id, version, updated_at`

// ClaimSeats moves the requested seats from available to held for bookingID.
// Rows are locked in seat-number order, and only rows that are still
// available once the lock is granted are updated. The caller compares the
// returned rows with the request; a short result means a conflict and the
// transaction must be rolled back.
func (r *SeatLedgerRepository) ClaimSeats(ctx context.Context, tx sqlx.ExtContext, tripID, bookingID uuid.UUID, seats models.SeatNumbers) ([]models.TripSeat, error) {
	query := `
		WITH target AS (
			SELECT id FROM trip_seats
			WHERE trip_id = $2
			  AND seat_number = ANY($3)
			  AND status = 'available'
			  AND booking_id IS NULL
			ORDER BY seat_number
			FOR UPDATE
		)
		UPDATE trip_seats ts
		SET status = 'held',
		    booking_id = $1,
		    version = ts.version + 1,
		    updated_at = NOW()
		FROM target
		WHERE ts.id = target.id
		  AND ts.status = 'available'
		RETURNING ts.id, ts.trip_id, ts.floor, ts.seat_number, ts.seat_type, ts.price,
		          ts.status, ts.booking_id, ts.version, ts.updated_at`

	var claimed []models.TripSeat
	if err := sqlx.SelectContext(ctx, tx, &claimed, query, bookingID, tripID, seats.Sorted()); err != nil {
		return nil, fmt.Errorf("failed to claim seats: %w", err)
	}
	return claimed, nil
}

// ReleaseHeldSeats returns seats still held by bookingID to available.
// Seats already booked, or re-claimed by another booking, are untouched.
func (r *SeatLedgerRepository) ReleaseHeldSeats(ctx context.Context, tx sqlx.ExtContext, bookingID uuid.UUID) (int64, error) {
	query := `
		UPDATE trip_seats
		SET status = 'available',
		    booking_id = NULL,
		    version = version + 1,
		    updated_at = NOW()
		WHERE booking_id = $1 AND status = 'held'`

	result, err := tx.ExecContext(ctx, query, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to release held seats: %w", err)
	}
	return result.RowsAffected()
}

// ReleaseAllSeats returns every seat owned by bookingID (held or booked) to
// available. Used when a confirmed booking is cancelled by an operator.
func (r *SeatLedgerRepository) ReleaseAllSeats(ctx context.Context, tx sqlx.ExtContext, bookingID uuid.UUID) (int64, error) {
	query := `
		UPDATE trip_seats
		SET status = 'available',
		    booking_id = NULL,
		    version = version + 1,
		    updated_at = NOW()
		WHERE booking_id = $1 AND status IN ('held', 'booked')`

	result, err := tx.ExecContext(ctx, query, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to release seats: %w", err)
	}
	return result.RowsAffected()
}

// BookHeldSeats moves the listed seats from held to booked, but only while
// they still point at bookingID.
func (r *SeatLedgerRepository) BookHeldSeats(ctx context.Context, tx sqlx.ExtContext, bookingID uuid.UUID, seats models.SeatNumbers) (int64, error) {
	query := `
		UPDATE trip_seats
		SET status = 'booked',
		    version = version + 1,
		    updated_at = NOW()
		WHERE booking_id = $1
		  AND status = 'held'
		  AND seat_number = ANY($2)`

	result, err := tx.ExecContext(ctx, query, bookingID, seats.Sorted())
	if err != nil {
		return 0, fmt.Errorf("failed to book seats: %w", err)
	}
	return result.RowsAffected()
}

// GetTripSeats returns the full ledger for a trip ordered by floor and seat
func (r *SeatLedgerRepository) GetTripSeats(ctx context.Context, tripID uuid.UUID) ([]models.TripSeat, error) {
	query := `SELECT ` + tripSeatColumns + `
		FROM trip_seats
		WHERE trip_id = $1
		ORDER BY floor, seat_number`

	var seats []models.TripSeat
	if err := r.db.SelectContext(ctx, &seats, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip seats: %w", err)
	}
	return seats, nil
}

// GetTripSeatSummary returns seat counts by status for a trip
func (r *SeatLedgerRepository) GetTripSeatSummary(ctx context.Context, tripID uuid.UUID) (*models.TripSeatSummary, error) {
	query := `
		SELECT
			$1::uuid AS trip_id,
			COUNT(*) AS total_seats,
			COUNT(*) FILTER (WHERE status = 'available') AS available_seats,
			COUNT(*) FILTER (WHERE status = 'held') AS held_seats,
			COUNT(*) FILTER (WHERE status = 'booked') AS booked_seats
		FROM trip_seats
		WHERE trip_id = $1`

	var summary models.TripSeatSummary
	if err := r.db.GetContext(ctx, &summary, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip seat summary: %w", err)
	}
	return &summary, nil
}
