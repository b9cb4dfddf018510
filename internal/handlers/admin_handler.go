package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/middleware"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/services"
)

// Sweeper runs and reports on hold expiration
type Sweeper interface {
	RunOnce(ctx context.Context) (*services.SweepResult, error)
	Status(ctx context.Context) (*services.SweeperStatus, error)
}

// AdminBookingOperator performs operator booking transitions
type AdminBookingOperator interface {
	CancelByAdmin(ctx context.Context, bookingID uuid.UUID, reason, adminUsername string) (*models.Booking, error)
	CompleteTrip(ctx context.Context, tripID uuid.UUID) ([]models.Booking, error)
}

// PaymentAuditReader reads the payment audit trail
type PaymentAuditReader interface {
	History(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
	ReconciliationQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// AdminHandler handles operator endpoints
type AdminHandler struct {
	sweeper  Sweeper
	bookings AdminBookingOperator
	audits   PaymentAuditReader
	logger   *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(sweeper Sweeper, bookings AdminBookingOperator, audits PaymentAuditReader, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		sweeper:  sweeper,
		bookings: bookings,
		audits:   audits,
		logger:   logger,
	}
}

// RunSweeper expires overdue holds now
// POST /api/v1/admin/sweeper/run
func (h *AdminHandler) RunSweeper(c *gin.Context) {
	result, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SweeperStatus reports the sweeper schedule and last run
// GET /api/v1/admin/sweeper/status
func (h *AdminHandler) SweeperStatus(c *gin.Context) {
	status, err := h.sweeper.Status(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelBooking cancels a held or confirmed booking
// POST /api/v1/admin/bookings/:id/cancel
func (h *AdminHandler) CancelBooking(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.AdminCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason is required")
		return
	}

	operator, _ := middleware.GetUserContext(c)
	booking, err := h.bookings.CancelByAdmin(c.Request.Context(), bookingID, req.Reason, operator.Username)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CompleteTrip marks every confirmed booking of a trip completed
// POST /api/v1/admin/trips/:id/complete
func (h *AdminHandler) CompleteTrip(c *gin.Context) {
	tripID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	completed, err := h.bookings.CompleteTrip(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trip_id":   tripID,
		"completed": len(completed),
		"bookings":  completed,
	})
}

// PaymentHistory lists the payment audit trail of a booking
// GET /api/v1/admin/bookings/:id/payments
func (h *AdminHandler) PaymentHistory(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	history, err := h.audits.History(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": bookingID, "events": history})
}

// ReconciliationMismatches lists payments that need manual follow-up
// GET /api/v1/admin/reconciliation/mismatches?limit=
func (h *AdminHandler) ReconciliationMismatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	queue, err := h.audits.ReconciliationQueue(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(queue), "events": queue})
}
