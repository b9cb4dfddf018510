package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/pkg/validator"
)

// LookupService answers customer-facing booking and seat queries
type LookupService struct {
	bookings   BookingStore
	trips      TripStore
	seats      SeatLedgerReader
	expiration *ExpirationService
	phone      *validator.PhoneValidator
	logger     *logrus.Logger
}

// NewLookupService creates a new lookup service
func NewLookupService(
	bookings BookingStore,
	trips TripStore,
	seats SeatLedgerReader,
	expiration *ExpirationService,
	logger *logrus.Logger,
) *LookupService {
	return &LookupService{
		bookings:   bookings,
		trips:      trips,
		seats:      seats,
		expiration: expiration,
		phone:      validator.NewPhoneValidator(),
		logger:     logger,
	}
}

// Lookup finds a booking by ticket code or booking id. The contact phone
// must match; a mismatch is reported as not found.
func (s *LookupService) Lookup(ctx context.Context, identifier, contactPhone string) (*models.BookingWithTrip, error) {
	booking, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if !s.phone.SameNumber(booking.ContactPhone, contactPhone) {
		s.logger.WithField("booking_id", booking.ID).Debug("Lookup rejected: contact phone mismatch")
		return nil, models.ErrBookingNotFound
	}

	booking, err = s.refresh(ctx, booking)
	if err != nil {
		return nil, err
	}

	trip, err := s.trips.GetByID(ctx, booking.TripID)
	if err != nil && !errors.Is(err, models.ErrTripNotFound) {
		return nil, err
	}

	return &models.BookingWithTrip{Booking: booking, Trip: trip}, nil
}

// PaymentReturn re-reads a booking after the browser comes back from the
// gateway. The order code must belong to the booking. The gateway's status
// parameter is informational only.
func (s *LookupService) PaymentReturn(ctx context.Context, bookingID uuid.UUID, orderCode int64) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentOrderCode == nil || *booking.PaymentOrderCode != orderCode {
		return nil, models.ErrBookingNotFound
	}
	return s.refresh(ctx, booking)
}

// SeatMap returns the seat ledger projection of a trip
func (s *LookupService) SeatMap(ctx context.Context, tripID uuid.UUID) (*models.TripSeatMap, error) {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return nil, err
	}

	seats, err := s.seats.GetTripSeats(ctx, tripID)
	if err != nil {
		return nil, err
	}
	summary, err := s.seats.GetTripSeatSummary(ctx, tripID)
	if err != nil {
		return nil, err
	}

	return &models.TripSeatMap{Summary: *summary, Seats: seats}, nil
}

func (s *LookupService) findByIdentifier(ctx context.Context, identifier string) (*models.Booking, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.NewValidationError("identifier", "identifier is required")
	}
	if id, err := uuid.Parse(identifier); err == nil {
		return s.bookings.GetByID(ctx, id)
	}
	return s.bookings.GetByTicketCode(ctx, strings.ToUpper(identifier))
}

// refresh expires an overdue hold before it is shown
func (s *LookupService) refresh(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if s.expiration == nil {
		return b, nil
	}
	return s.expiration.ExpireIfDue(ctx, b)
}
