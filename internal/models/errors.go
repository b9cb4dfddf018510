package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by repositories, services and handlers.
var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingNotHoldable   = errors.New("booking is not in a holdable state")
	ErrTripNotFound         = errors.New("trip not found")
	ErrTripNotBookable      = errors.New("trip is not open for booking")
	ErrSignatureInvalid     = errors.New("payment notification signature is invalid")
	ErrAmountMismatch       = errors.New("payment amount does not match booking total")
	ErrAlreadyProcessed     = errors.New("payment notification already processed")
	ErrSeatsNotOwned        = errors.New("booking no longer owns all of its seats")
	ErrOrderCodeConflict    = errors.New("payment order code already reserved")
	ErrTicketCodeCollision  = errors.New("ticket code already in use")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrBookingNotCancelable = errors.New("booking cannot be cancelled in its current state")
	ErrPaymentLinkExists    = errors.New("payment link already exists for order code")
	ErrPaymentLinkNotFound  = errors.New("no payment link for order code")
)

// ValidationError is returned when a request fails input validation before
// any seat is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SeatConflictError names the seats that could not be claimed.
type SeatConflictError struct {
	TripID string
	Seats  []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats not available on trip %s: %s", e.TripID, strings.Join(e.Seats, ", "))
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSeatConflict reports whether err is (or wraps) a SeatConflictError and
// returns it.
func IsSeatConflict(err error) (*SeatConflictError, bool) {
	var sc *SeatConflictError
	if errors.As(err, &sc) {
		return sc, true
	}
	return nil, false
}
