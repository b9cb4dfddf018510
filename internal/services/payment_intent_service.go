package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/utils"
	"golang.org/x/sync/singleflight"
)

// maxOrderCodeAttempts bounds retries when a generated order code collides
const maxOrderCodeAttempts = 3

// PaymentIntentService issues gateway payment links for held bookings
type PaymentIntentService struct {
	bookings   BookingStore
	gateway    PaymentGateway
	expiration *ExpirationService
	audit      *AuditService
	currency   string
	logger     *logrus.Logger
	now        Clock

	// issuing collapses concurrent requests for one booking into one
	// gateway round trip
	issuing singleflight.Group
}

// NewPaymentIntentService creates a new payment intent service
func NewPaymentIntentService(
	bookings BookingStore,
	gateway PaymentGateway,
	expiration *ExpirationService,
	audit *AuditService,
	currency string,
	logger *logrus.Logger,
) *PaymentIntentService {
	return &PaymentIntentService{
		bookings:   bookings,
		gateway:    gateway,
		expiration: expiration,
		audit:      audit,
		currency:   currency,
		logger:     logger,
		now:        time.Now,
	}
}

// IssuePaymentLink returns a payable link for a held booking. The order code
// is written to the booking once; repeated calls return the stored link.
// When an earlier attempt registered the order code at the gateway but its
// link was never stored, the registered link is fetched and stored instead
// of creating a second one.
func (s *PaymentIntentService) IssuePaymentLink(ctx context.Context, bookingID uuid.UUID, meta RequestMeta) (*models.PaymentLinkResponse, error) {
	v, err, _ := s.issuing.Do(bookingID.String(), func() (interface{}, error) {
		return s.issue(ctx, bookingID, meta)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PaymentLinkResponse), nil
}

func (s *PaymentIntentService) issue(ctx context.Context, bookingID uuid.UUID, meta RequestMeta) (*models.PaymentLinkResponse, error) {
	booking, err := s.holdableBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.PaymentOrderCode != nil && booking.PaymentLink != nil {
		return models.NewPaymentLinkResponse(booking, booking.PaymentLink), nil
	}

	orderCode, reserved, err := s.reserveOrderCode(ctx, booking)
	if err != nil {
		return nil, err
	}

	link, err := s.obtainLink(ctx, booking, orderCode, reserved, meta)
	if err != nil {
		return nil, err
	}

	if err := s.bookings.SavePaymentLink(ctx, booking.ID, orderCode, link); err != nil {
		return nil, err
	}
	booking.PaymentLink = link

	return models.NewPaymentLinkResponse(booking, link), nil
}

// holdableBooking loads the booking, expiring it first when overdue, and
// fails with ErrBookingNotHoldable unless it is an open hold
func (s *PaymentIntentService) holdableBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if s.expiration != nil {
		if booking, err = s.expiration.ExpireIfDue(ctx, booking); err != nil {
			return nil, err
		}
	}
	if !booking.IsHoldActive(s.now()) {
		return nil, models.ErrBookingNotHoldable
	}
	return booking, nil
}

// reserveOrderCode returns the booking's order code, writing a fresh one
// when none is set yet. reserved is true only when this call wrote it, so
// no earlier attempt can have reached the gateway with that code.
func (s *PaymentIntentService) reserveOrderCode(ctx context.Context, booking *models.Booking) (int64, bool, error) {
	if booking.PaymentOrderCode != nil {
		return *booking.PaymentOrderCode, false, nil
	}

	for attempt := 0; attempt < maxOrderCodeAttempts; attempt++ {
		now := s.now()
		code, err := utils.GenerateOrderCode(now)
		if err != nil {
			return 0, false, err
		}

		ok, err := s.bookings.ReserveOrderCode(ctx, booking.ID, code, now)
		if errors.Is(err, models.ErrOrderCodeConflict) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if ok {
			booking.PaymentOrderCode = &code
			return code, true, nil
		}

		// Precondition failed: a concurrent request reserved first, or the
		// hold closed in between
		current, err := s.bookings.GetByID(ctx, booking.ID)
		if err != nil {
			return 0, false, err
		}
		if current.PaymentOrderCode != nil && current.IsHoldActive(s.now()) {
			*booking = *current
			return *current.PaymentOrderCode, false, nil
		}
		return 0, false, models.ErrBookingNotHoldable
	}

	return 0, false, fmt.Errorf("failed to reserve a unique order code after %d attempts", maxOrderCodeAttempts)
}

// obtainLink creates the gateway link for orderCode. A code this call did
// not reserve may already be registered by an attempt whose response was
// lost or by another instance, so it is looked up first, and a create that
// the gateway rejects as a duplicate falls back to the lookup.
func (s *PaymentIntentService) obtainLink(ctx context.Context, booking *models.Booking, orderCode int64, reserved bool, meta RequestMeta) (*models.PaymentLink, error) {
	if !reserved {
		existing, err := s.gateway.GetPaymentLink(ctx, orderCode)
		switch {
		case err == nil:
			return s.adoptLink(ctx, booking, existing, meta)
		case !errors.Is(err, models.ErrPaymentLinkNotFound):
			return nil, err
		}
	}

	link, err := s.requestLink(ctx, booking, orderCode, meta)
	if !errors.Is(err, models.ErrPaymentLinkExists) {
		return link, err
	}

	existing, err := s.gateway.GetPaymentLink(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	return s.adoptLink(ctx, booking, existing, meta)
}

// adoptLink accepts a link found at the gateway for the booking's order code
func (s *PaymentIntentService) adoptLink(ctx context.Context, booking *models.Booking, link *models.PaymentLink, meta RequestMeta) (*models.PaymentLink, error) {
	fields := logrus.Fields{
		"booking_id":      booking.ID,
		"order_code":      link.OrderCode,
		"payment_link_id": link.PaymentLinkID,
		"status":          link.Status,
	}

	if link.Amount != booking.TotalAmount {
		s.logger.WithFields(fields).Error("Registered payment link amount does not match booking total")
		return nil, fmt.Errorf("registered payment link amount %d does not match booking total %d", link.Amount, booking.TotalAmount)
	}
	switch link.Status {
	case "CANCELLED", "EXPIRED":
		s.logger.WithFields(fields).Warn("Registered payment link can no longer be paid")
		return nil, models.ErrBookingNotHoldable
	}
	if link.Currency == "" {
		link.Currency = s.currency
	}

	recovered := models.NewPaymentAudit(models.PaymentEventLinkIssued, models.PaymentSourcePayOSAPI).
		SetBooking(booking.ID).
		SetOrderCode(link.OrderCode).
		SetPaymentLinkID(link.PaymentLinkID)
	recovered.SetAmounts(booking.TotalAmount, link.Amount, link.Currency)
	recovered.SetResponsePayload(map[string]interface{}{
		"payment_link_id": link.PaymentLinkID,
		"checkout_url":    link.CheckoutURL,
		"status":          link.Status,
		"recovered":       true,
	})
	s.audit.Record(ctx, recovered, meta)

	s.logger.WithFields(fields).Info("Recovered payment link already registered at gateway")
	return link, nil
}

func (s *PaymentIntentService) requestLink(ctx context.Context, booking *models.Booking, orderCode int64, meta RequestMeta) (*models.PaymentLink, error) {
	items := make([]PayOSItem, 0, len(booking.Passengers))
	for _, p := range booking.Passengers {
		items = append(items, PayOSItem{
			Name:     "Ghe " + p.SeatNumber,
			Quantity: 1,
			Price:    p.Price,
		})
	}

	req := &PaymentLinkRequest{
		OrderCode:   orderCode,
		Amount:      booking.TotalAmount,
		Description: PaymentDescription(booking.ID),
		BuyerName:   booking.ContactName,
		BuyerPhone:  booking.ContactPhone,
		Items:       items,
	}
	if booking.ContactEmail != nil {
		req.BuyerEmail = *booking.ContactEmail
	}
	if booking.HeldUntil != nil {
		req.ExpiredAt = *booking.HeldUntil
	}

	start := time.Now()
	requested := models.NewPaymentAudit(models.PaymentEventLinkRequested, models.PaymentSourceBackend).
		SetBooking(booking.ID).
		SetOrderCode(orderCode)
	expected, currency := booking.TotalAmount, s.currency
	requested.ExpectedAmount = &expected
	requested.Currency = &currency
	requested.SetRequestPayload(map[string]interface{}{
		"order_code":  orderCode,
		"amount":      booking.TotalAmount,
		"description": req.Description,
		"seats":       booking.SeatNumbers(),
	})
	s.audit.Record(ctx, requested, meta)

	link, err := s.gateway.CreatePaymentLink(ctx, req)
	if err != nil {
		failed := models.NewPaymentAudit(models.PaymentEventLinkFailed, models.PaymentSourcePayOSAPI).
			SetBooking(booking.ID).
			SetOrderCode(orderCode).
			SetError(err.Error(), nil).
			SetProcessingTime(start)
		s.audit.Record(ctx, failed, meta)

		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"order_code": orderCode,
		}).Error("Failed to create payment link")
		return nil, err
	}

	issued := models.NewPaymentAudit(models.PaymentEventLinkIssued, models.PaymentSourcePayOSAPI).
		SetBooking(booking.ID).
		SetOrderCode(orderCode).
		SetPaymentLinkID(link.PaymentLinkID).
		SetProcessingTime(start)
	issued.SetAmounts(booking.TotalAmount, link.Amount, link.Currency)
	issued.SetResponsePayload(map[string]interface{}{
		"payment_link_id": link.PaymentLinkID,
		"checkout_url":    link.CheckoutURL,
		"status":          link.Status,
	})
	s.audit.Record(ctx, issued, meta)

	s.logger.WithFields(logrus.Fields{
		"booking_id":      booking.ID,
		"order_code":      orderCode,
		"payment_link_id": link.PaymentLinkID,
		"amount":          booking.TotalAmount,
	}).Info("Payment link issued")

	return link, nil
}

// PaymentDescription is the transfer note shown to the payer. The gateway
// caps it at 25 characters.
func PaymentDescription(bookingID uuid.UUID) string {
	return "VE " + strings.ToUpper(strings.ReplaceAll(bookingID.String(), "-", "")[:10])
}
