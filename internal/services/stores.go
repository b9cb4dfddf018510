package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// BookingStore is the persistence the booking services depend on.
// database.BookingRepository implements it against Postgres.
type BookingStore interface {
	CreateHold(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByTicketCode(ctx context.Context, code string) (*models.Booking, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	CountActiveHolds(ctx context.Context) (int, error)
	ExpireHold(ctx context.Context, id uuid.UUID, now time.Time) (*models.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, from []models.BookingStatus, reason string, now time.Time) (*models.Booking, error)
	ReserveOrderCode(ctx context.Context, id uuid.UUID, orderCode int64, now time.Time) (bool, error)
	SavePaymentLink(ctx context.Context, id uuid.UUID, orderCode int64, link *models.PaymentLink) error
	ReconcilePayment(ctx context.Context, orderCode int64, decide func(*models.Booking) (models.PaymentDecision, error)) (*models.Booking, error)
	CompleteTrip(ctx context.Context, tripID uuid.UUID, now time.Time) ([]models.Booking, error)
}

// TripStore reads trips from the catalog
type TripStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
}

// SeatLedgerReader reads seat occupancy for a trip
type SeatLedgerReader interface {
	GetTripSeats(ctx context.Context, tripID uuid.UUID) ([]models.TripSeat, error)
	GetTripSeatSummary(ctx context.Context, tripID uuid.UUID) (*models.TripSeatSummary, error)
}

// PaymentAuditStore appends and reads payment audit rows
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
	GetReconciliationQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// Clock returns the current time; tests substitute a fixed one
type Clock func() time.Time
