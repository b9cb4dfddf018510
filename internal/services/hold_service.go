package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/metrics"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/pkg/validator"
)

// HoldService places time-boxed seat holds
type HoldService struct {
	bookings  BookingStore
	trips     TripStore
	publisher events.Publisher
	phone     *validator.PhoneValidator
	cfg       config.BookingConfig
	logger    *logrus.Logger
	now       Clock
}

// NewHoldService creates a new hold service
func NewHoldService(
	bookings BookingStore,
	trips TripStore,
	publisher events.Publisher,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *HoldService {
	return &HoldService{
		bookings:  bookings,
		trips:     trips,
		publisher: publisher,
		phone:     validator.NewPhoneValidator(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// ValidateHoldRequest checks the request shape without touching storage.
// On success it returns the normalised passengers and contact phone.
func (s *HoldService) ValidateHoldRequest(req *models.CreateHoldRequest) (models.Passengers, string, error) {
	if req.TripID == uuid.Nil {
		return nil, "", models.NewValidationError("trip_id", "trip_id is required")
	}
	if len(req.Passengers) == 0 {
		return nil, "", models.NewValidationError("passengers", "at least one passenger is required")
	}
	if len(req.Passengers) > s.cfg.MaxSeatsPerBooking {
		return nil, "", models.NewValidationError("passengers",
			fmt.Sprintf("at most %d seats may be held per booking", s.cfg.MaxSeatsPerBooking))
	}
	if strings.TrimSpace(req.ContactName) == "" {
		return nil, "", models.NewValidationError("contact_name", "contact name is required")
	}

	contactPhone, err := s.phone.Validate(req.ContactPhone)
	if err != nil {
		return nil, "", models.NewValidationError("contact_phone", err.Error())
	}

	seen := make(map[string]struct{}, len(req.Passengers))
	passengers := make(models.Passengers, 0, len(req.Passengers))
	for i, p := range req.Passengers {
		seat := strings.ToUpper(strings.TrimSpace(p.SeatNumber))
		if seat == "" {
			return nil, "", models.NewValidationError(fmt.Sprintf("passengers[%d].seat_number", i), "seat number is required")
		}
		if _, dup := seen[seat]; dup {
			return nil, "", models.NewValidationError("passengers", fmt.Sprintf("seat %s is listed more than once", seat))
		}
		seen[seat] = struct{}{}

		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, "", models.NewValidationError(fmt.Sprintf("passengers[%d].name", i), "passenger name is required")
		}

		phone := strings.TrimSpace(p.Phone)
		if phone != "" {
			normalised, err := s.phone.Validate(phone)
			if err != nil {
				return nil, "", models.NewValidationError(fmt.Sprintf("passengers[%d].phone", i), err.Error())
			}
			phone = normalised
		}

		passengers = append(passengers, models.Passenger{
			Name:       name,
			Phone:      phone,
			SeatNumber: seat,
		})
	}

	return passengers, contactPhone, nil
}

// CreateHold validates the request, then claims every seat and creates a
// held booking atomically. Returns *models.SeatConflictError when any seat
// is not available.
func (s *HoldService) CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.Booking, error) {
	passengers, contactPhone, err := s.ValidateHoldRequest(req)
	if err != nil {
		metrics.IncHold("invalid")
		return nil, err
	}

	now := s.now()
	trip, err := s.trips.GetByID(ctx, req.TripID)
	if err != nil {
		if errors.Is(err, models.ErrTripNotFound) {
			metrics.IncHold("invalid")
		} else {
			metrics.IncHold("error")
		}
		return nil, err
	}
	if !trip.IsBookable(now) {
		metrics.IncHold("invalid")
		return nil, models.ErrTripNotBookable
	}

	heldUntil := now.Add(s.cfg.HoldWindow)
	booking := &models.Booking{
		ID:            uuid.New(),
		TripID:        trip.ID,
		CompanyID:     trip.CompanyID,
		Status:        models.BookingStatusHeld,
		PaymentStatus: models.PaymentStatusPending,
		Passengers:    passengers,
		ContactName:   strings.TrimSpace(req.ContactName),
		ContactPhone:  contactPhone,
		ContactEmail:  normaliseEmail(req.ContactEmail),
		HeldUntil:     &heldUntil,
		CreatedAt:     now,
	}

	if err := s.bookings.CreateHold(ctx, booking); err != nil {
		if conflict, ok := models.IsSeatConflict(err); ok {
			metrics.IncHold("conflict")
			s.logger.WithFields(logrus.Fields{
				"trip_id": req.TripID,
				"seats":   conflict.Seats,
			}).Info("Seat hold rejected: seats unavailable")
			return nil, err
		}
		metrics.IncHold("error")
		s.logger.WithError(err).WithField("trip_id", req.TripID).Error("Failed to create seat hold")
		return nil, err
	}

	metrics.IncHold("created")
	metrics.IncTransition(string(models.BookingStatusHeld))
	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"trip_id":      booking.TripID,
		"seats":        booking.SeatNumbers(),
		"total_amount": booking.TotalAmount,
		"held_until":   heldUntil,
	}).Info("Seats held")

	s.publisher.Publish(ctx, events.BookingHeld, booking)
	return booking, nil
}

func normaliseEmail(email *string) *string {
	if email == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*email)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
