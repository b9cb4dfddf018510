package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/metrics"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/pkg/validator"
)

// CancellationService handles explicit cancellation and trip completion.
// Both go through the same conditional status update as expiry, so they
// cannot overwrite a concurrent confirmation or sweep.
type CancellationService struct {
	bookings   BookingStore
	trips      TripStore
	gateway    PaymentGateway
	expiration *ExpirationService
	publisher  events.Publisher
	phone      *validator.PhoneValidator
	logger     *logrus.Logger
	now        Clock
}

// NewCancellationService creates a new cancellation service
func NewCancellationService(
	bookings BookingStore,
	trips TripStore,
	gateway PaymentGateway,
	expiration *ExpirationService,
	publisher events.Publisher,
	logger *logrus.Logger,
) *CancellationService {
	return &CancellationService{
		bookings:   bookings,
		trips:      trips,
		gateway:    gateway,
		expiration: expiration,
		publisher:  publisher,
		phone:      validator.NewPhoneValidator(),
		logger:     logger,
		now:        time.Now,
	}
}

// CancelByCustomer cancels a held booking for the customer who made it. A
// hold already past its deadline is expired instead and cannot be cancelled.
func (s *CancellationService) CancelByCustomer(ctx context.Context, bookingID uuid.UUID, contactPhone, reason string) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !s.phone.SameNumber(booking.ContactPhone, contactPhone) {
		return nil, models.ErrBookingNotFound
	}

	if s.expiration != nil {
		if booking, err = s.expiration.ExpireIfDue(ctx, booking); err != nil {
			return nil, err
		}
		if booking.Status != models.BookingStatusHeld {
			return nil, models.ErrBookingNotCancelable
		}
	}

	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by customer"
	}
	return s.cancel(ctx, bookingID, []models.BookingStatus{models.BookingStatusHeld}, reason, "customer")
}

// CancelByAdmin cancels a held or confirmed booking and frees its seats
func (s *CancellationService) CancelByAdmin(ctx context.Context, bookingID uuid.UUID, reason, adminUsername string) (*models.Booking, error) {
	return s.cancel(ctx, bookingID,
		[]models.BookingStatus{models.BookingStatusHeld, models.BookingStatusConfirmed},
		reason, "admin:"+adminUsername)
}

func (s *CancellationService) cancel(ctx context.Context, bookingID uuid.UUID, from []models.BookingStatus, reason, actor string) (*models.Booking, error) {
	cancelled, err := s.bookings.Cancel(ctx, bookingID, from, reason, s.now())
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(models.BookingStatusCancelled))
	s.logger.WithFields(logrus.Fields{
		"booking_id": cancelled.ID,
		"trip_id":    cancelled.TripID,
		"seats":      cancelled.SeatNumbers(),
		"actor":      actor,
	}).Info("Booking cancelled, seats released")

	s.publisher.Publish(ctx, events.BookingCancelled, cancelled)
	if cancelled.PaymentStatus != models.PaymentStatusPaid {
		cancelGatewayLink(ctx, s.gateway, s.logger, cancelled, reason)
	}
	return cancelled, nil
}

// CompleteTrip moves every confirmed booking of the trip to completed
func (s *CancellationService) CompleteTrip(ctx context.Context, tripID uuid.UUID) ([]models.Booking, error) {
	if _, err := s.trips.GetByID(ctx, tripID); err != nil {
		return nil, err
	}

	completed, err := s.bookings.CompleteTrip(ctx, tripID, s.now())
	if err != nil {
		return nil, err
	}

	for i := range completed {
		metrics.IncTransition(string(models.BookingStatusCompleted))
		s.publisher.Publish(ctx, events.BookingCompleted, &completed[i])
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":   tripID,
		"completed": len(completed),
	}).Info("Trip completed")
	return completed, nil
}
