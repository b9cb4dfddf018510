package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Field   string   `json:"field,omitempty"`
	Seats   []string `json:"seats,omitempty"`
}

// respondError maps a domain error to its HTTP status and writes the body.
// Unknown errors are logged and reported as 500 without their detail.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var validationErr *models.ValidationError
	var conflictErr *models.SeatConflictError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: validationErr.Message,
			Field:   validationErr.Field,
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "seat_conflict",
			Message: "Some seats are no longer available",
			Seats:   conflictErr.Seats,
		})
	case errors.Is(err, models.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking_not_found", Message: err.Error()})
	case errors.Is(err, models.ErrTripNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "trip_not_found", Message: err.Error()})
	case errors.Is(err, models.ErrTripNotBookable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "trip_not_bookable", Message: err.Error()})
	case errors.Is(err, models.ErrBookingNotHoldable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking_not_holdable", Message: err.Error()})
	case errors.Is(err, models.ErrBookingNotCancelable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking_not_cancelable", Message: err.Error()})
	case errors.Is(err, models.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_credentials", Message: "Invalid username or password"})
	case errors.Is(err, models.ErrGatewayUnavailable):
		logger.WithError(err).Error("Payment gateway unavailable")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "gateway_unavailable", Message: "Payment gateway is unavailable, please retry"})
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "An internal error occurred"})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message})
}
