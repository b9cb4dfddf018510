package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/services"
)

// maxWebhookBody caps the notification body read from the gateway
const maxWebhookBody = 1 << 20

// PaymentReconciler applies gateway notifications to bookings
type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, body []byte, meta services.RequestMeta) (*services.WebhookOutcome, error)
}

// PaymentReturnFinder re-reads a booking when the buyer returns from checkout
type PaymentReturnFinder interface {
	PaymentReturn(ctx context.Context, bookingID uuid.UUID, orderCode int64) (*models.Booking, error)
}

// PaymentHandler handles gateway callbacks
type PaymentHandler struct {
	reconciler PaymentReconciler
	finder     PaymentReturnFinder
	logger     *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(reconciler PaymentReconciler, finder PaymentReturnFinder, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		reconciler: reconciler,
		finder:     finder,
		logger:     logger,
	}
}

// Webhook receives payOS payment notifications.
// Every decided outcome is acknowledged with 200 so the gateway stops
// redelivering; the outcome itself is in the payment audit log. Only a
// storage failure answers 500 so the gateway retries later.
// POST /api/v1/payments/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read payment webhook body")
		badRequest(c, "Unreadable request body")
		return
	}

	outcome, err := h.reconciler.HandleWebhook(c.Request.Context(), body, requestMeta(c))
	if outcome == nil || outcome.Result == services.WebhookError {
		h.logger.WithError(err).Error("Payment webhook could not be processed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Webhook could not be processed, please retry",
		})
		return
	}

	response := gin.H{
		"message": "webhook acknowledged",
		"result":  outcome.Result,
	}
	if outcome.OrderCode != 0 {
		response["order_code"] = outcome.OrderCode
	}
	c.JSON(http.StatusOK, response)
}

// Return is where the buyer's browser lands after checkout. The gateway
// status in the query string is advisory; the booking state is re-read.
// GET /api/v1/payments/return?bookingId=&orderCode=&status=
func (h *PaymentHandler) Return(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Query("bookingId"))
	if err != nil {
		badRequest(c, "Invalid bookingId")
		return
	}
	orderCode, err := strconv.ParseInt(c.Query("orderCode"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid orderCode")
		return
	}

	booking, err := h.finder.PaymentReturn(c.Request.Context(), bookingID, orderCode)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking":        booking,
		"gateway_status": c.Query("status"),
		"confirmed":      booking.Status == models.BookingStatusConfirmed,
	})
}
