package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

const bookingColumns = `id, trip_id, company_id, status, payment_status, passengers,
	contact_name, contact_phone, contact_email, total_amount, ticket_code,
	held_until, payment_order_code, payment_link, paid_at, confirmed_at,
	expired_at, cancelled_at, cancel_reason, version, created_at, updated_at`

// BookingRepository persists bookings. Every method that changes a booking's
// status also changes the seat ledger inside the same transaction.
type BookingRepository struct {
	db     *sqlx.DB
	ledger *SeatLedgerRepository
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB, ledger *SeatLedgerRepository) *BookingRepository {
	return &BookingRepository{db: db, ledger: ledger}
}

// CreateHold claims every passenger seat and inserts the held booking in one
// transaction. If any seat cannot be claimed nothing is written and a
// *models.SeatConflictError naming the missing seats is returned.
// Passenger prices and the total are filled from the claimed seat rows.
func (r *BookingRepository) CreateHold(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	requested := b.SeatNumbers()
	claimed, err := r.ledger.ClaimSeats(ctx, tx, b.TripID, b.ID, requested)
	if err != nil {
		return err
	}

	if len(claimed) != len(requested) {
		got := make([]string, 0, len(claimed))
		for _, s := range claimed {
			got = append(got, s.SeatNumber)
		}
		return &models.SeatConflictError{
			TripID: b.TripID.String(),
			Seats:  requested.Missing(got),
		}
	}

	if err := b.ApplySeatPrices(claimed); err != nil {
		return err
	}

	query := `
		INSERT INTO bookings (
			id, trip_id, company_id, status, payment_status, passengers,
			contact_name, contact_phone, contact_email, total_amount,
			held_until, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, 1, $12, $12
		)`

	_, err = tx.ExecContext(ctx, query,
		b.ID, b.TripID, b.CompanyID, b.Status, b.PaymentStatus, b.Passengers,
		b.ContactName, b.ContactPhone, b.ContactEmail, b.TotalAmount,
		b.HeldUntil, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hold: %w", err)
	}

	b.Version = 1
	b.UpdatedAt = b.CreatedAt
	return nil
}

// GetByID returns the booking or models.ErrBookingNotFound
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if err := r.db.GetContext(ctx, &b, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// GetByTicketCode returns the booking or models.ErrBookingNotFound
func (r *BookingRepository) GetByTicketCode(ctx context.Context, code string) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ticket_code = $1`
	if err := r.db.GetContext(ctx, &b, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking by ticket code: %w", err)
	}
	return &b, nil
}

// ListExpiredHolds returns held bookings whose window closed at or before now
func (r *BookingRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'held' AND held_until <= $1
		ORDER BY held_until
		LIMIT $2`

	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return bookings, nil
}

// CountActiveHolds returns how many bookings are currently held
func (r *BookingRepository) CountActiveHolds(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bookings WHERE status = 'held'`); err != nil {
		return 0, fmt.Errorf("failed to count active holds: %w", err)
	}
	return count, nil
}

// ExpireHold marks the booking expired and releases its held seats, but only
// if it is still held and due at now. It returns (nil, nil) when another
// actor already moved the booking on.
func (r *BookingRepository) ExpireHold(ctx context.Context, id uuid.UUID, now time.Time) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	query := `
		UPDATE bookings
		SET status = 'expired',
		    held_until = NULL,
		    expired_at = $2,
		    updated_at = $2,
		    version = version + 1
		WHERE id = $1
		  AND status = 'held'
		  AND held_until <= $2
		RETURNING ` + bookingColumns

	var b models.Booking
	if err := tx.GetContext(ctx, &b, query, id, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to expire booking: %w", err)
	}

	if _, err := r.ledger.ReleaseHeldSeats(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return &b, nil
}

// Cancel moves the booking to cancelled if its current status is one of
// from, and releases every seat it owns. It returns
// models.ErrBookingNotCancelable when the precondition does not hold.
func (r *BookingRepository) Cancel(ctx context.Context, id uuid.UUID, from []models.BookingStatus, reason string, now time.Time) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}

	query := `
		UPDATE bookings
		SET status = 'cancelled',
		    held_until = NULL,
		    ticket_code = NULL,
		    cancelled_at = $3,
		    cancel_reason = $4,
		    updated_at = $3,
		    version = version + 1
		WHERE id = $1
		  AND status = ANY($2)
		RETURNING ` + bookingColumns

	var b models.Booking
	if err := tx.GetContext(ctx, &b, query, id, pq.Array(statuses), now, reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotCancelable
		}
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	if _, err := r.ledger.ReleaseAllSeats(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return &b, nil
}

// ReserveOrderCode writes the gateway order code onto a held, unexpired
// booking that has none yet. It reports false when the precondition fails.
func (r *BookingRepository) ReserveOrderCode(ctx context.Context, id uuid.UUID, orderCode int64, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_order_code = $2,
		    updated_at = $3,
		    version = version + 1
		WHERE id = $1
		  AND status = 'held'
		  AND held_until > $3
		  AND payment_order_code IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, orderCode, now)
	if err != nil {
		if isUniqueViolation(err, "bookings_payment_order_code_key") {
			return false, models.ErrOrderCodeConflict
		}
		return false, fmt.Errorf("failed to reserve order code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve order code: %w", err)
	}
	return rows == 1, nil
}

// SavePaymentLink stores the gateway link payload for the reserved order code
func (r *BookingRepository) SavePaymentLink(ctx context.Context, id uuid.UUID, orderCode int64, link *models.PaymentLink) error {
	query := `
		UPDATE bookings
		SET payment_link = $3,
		    updated_at = NOW()
		WHERE id = $1 AND payment_order_code = $2`

	if _, err := r.db.ExecContext(ctx, query, id, orderCode, link); err != nil {
		return fmt.Errorf("failed to save payment link: %w", err)
	}
	return nil
}

// ReconcilePayment locks the booking that owns orderCode (SELECT ... FOR
// UPDATE), asks decide what to do with it, and applies the decision in the
// same transaction. An error from decide rolls back and is returned together
// with the locked snapshot.
func (r *BookingRepository) ReconcilePayment(ctx context.Context, orderCode int64, decide func(*models.Booking) (models.PaymentDecision, error)) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_order_code = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &b, query, orderCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}

	decision, err := decide(&b)
	if err != nil {
		return &b, err
	}

	switch decision.Action {
	case models.PaymentActionNone:
		return &b, nil

	case models.PaymentActionConfirm:
		seats := b.SeatNumbers()
		booked, err := r.ledger.BookHeldSeats(ctx, tx, b.ID, seats)
		if err != nil {
			return &b, err
		}
		if booked != int64(len(seats)) {
			return &b, models.ErrSeatsNotOwned
		}

		update := `
			UPDATE bookings
			SET status = 'confirmed',
			    payment_status = 'paid',
			    ticket_code = $2,
			    held_until = NULL,
			    paid_at = $3,
			    confirmed_at = $3,
			    updated_at = $3,
			    version = version + 1
			WHERE id = $1 AND status = 'held'
			RETURNING ` + bookingColumns

		var confirmed models.Booking
		if err := tx.GetContext(ctx, &confirmed, update, b.ID, decision.TicketCode, decision.At); err != nil {
			if isUniqueViolation(err, "bookings_ticket_code_key") {
				return &b, models.ErrTicketCodeCollision
			}
			return &b, fmt.Errorf("failed to confirm booking: %w", err)
		}
		b = confirmed

	case models.PaymentActionMarkFailed:
		update := `
			UPDATE bookings
			SET payment_status = 'failed',
			    updated_at = $2,
			    version = version + 1
			WHERE id = $1 AND status = 'held'
			RETURNING ` + bookingColumns

		var failed models.Booking
		if err := tx.GetContext(ctx, &failed, update, b.ID, decision.At); err != nil {
			return &b, fmt.Errorf("failed to mark payment failed: %w", err)
		}
		b = failed

	default:
		return &b, fmt.Errorf("unknown payment action %d", decision.Action)
	}

	if err := tx.Commit(); err != nil {
		return &b, fmt.Errorf("failed to commit payment reconciliation: %w", err)
	}
	return &b, nil
}

// CompleteTrip moves every confirmed booking of the trip to completed and
// marks the trip completed. Seats stay booked.
func (r *BookingRepository) CompleteTrip(ctx context.Context, tripID uuid.UUID, now time.Time) ([]models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	query := `
		UPDATE bookings
		SET status = 'completed',
		    updated_at = $2,
		    version = version + 1
		WHERE trip_id = $1 AND status = 'confirmed'
		RETURNING ` + bookingColumns

	var completed []models.Booking
	if err := tx.SelectContext(ctx, &completed, query, tripID, now); err != nil {
		return nil, fmt.Errorf("failed to complete bookings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE trips SET status = 'completed', updated_at = $2 WHERE id = $1`, tripID, now); err != nil {
		return nil, fmt.Errorf("failed to complete trip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trip completion: %w", err)
	}
	return completed, nil
}
