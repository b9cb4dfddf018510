package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/services"
	"github.com/smarttransit/seat-booking-backend/internal/utils"
)

// HoldCreator places seat holds
type HoldCreator interface {
	CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.Booking, error)
}

// PaymentLinkIssuer issues payable links for held bookings
type PaymentLinkIssuer interface {
	IssuePaymentLink(ctx context.Context, bookingID uuid.UUID, meta services.RequestMeta) (*models.PaymentLinkResponse, error)
}

// BookingFinder answers customer reads
type BookingFinder interface {
	Lookup(ctx context.Context, identifier, contactPhone string) (*models.BookingWithTrip, error)
	PaymentReturn(ctx context.Context, bookingID uuid.UUID, orderCode int64) (*models.Booking, error)
	SeatMap(ctx context.Context, tripID uuid.UUID) (*models.TripSeatMap, error)
}

// CustomerCanceller cancels a held booking on the customer's request
type CustomerCanceller interface {
	CancelByCustomer(ctx context.Context, bookingID uuid.UUID, contactPhone, reason string) (*models.Booking, error)
}

// BookingHandler handles the customer booking endpoints
type BookingHandler struct {
	holds   HoldCreator
	intents PaymentLinkIssuer
	finder  BookingFinder
	cancels CustomerCanceller
	logger  *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	holds HoldCreator,
	intents PaymentLinkIssuer,
	finder BookingFinder,
	cancels CustomerCanceller,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		holds:   holds,
		intents: intents,
		finder:  finder,
		cancels: cancels,
		logger:  logger,
	}
}

// CreateHold claims seats for a contact
// POST /api/v1/bookings/hold
func (h *BookingHandler) CreateHold(c *gin.Context) {
	var req models.CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	booking, err := h.holds.CreateHold(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// IssuePaymentLink returns the payable link of a held booking
// POST /api/v1/bookings/:id/payment-link
func (h *BookingHandler) IssuePaymentLink(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	link, err := h.intents.IssuePaymentLink(c.Request.Context(), bookingID, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// Lookup finds a booking by ticket code or id for its contact phone
// POST /api/v1/bookings/lookup
func (h *BookingHandler) Lookup(c *gin.Context) {
	var req models.LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "identifier and contact_phone are required")
		return
	}

	result, err := h.finder.Lookup(c.Request.Context(), req.Identifier, req.ContactPhone)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Cancel cancels a held booking
// POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	bookingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "contact_phone is required")
		return
	}

	booking, err := h.cancels.CancelByCustomer(c.Request.Context(), bookingID, req.ContactPhone, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetTripSeats returns the seat availability of a trip
// GET /api/v1/trips/:id/seats
func (h *BookingHandler) GetTripSeats(c *gin.Context) {
	tripID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	seatMap, err := h.finder.SeatMap(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, seatMap)
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}
