package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/metrics"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/utils"
)

// maxTicketCodeAttempts bounds retries when a generated ticket code collides
const maxTicketCodeAttempts = 3

// Webhook results, also used as metric labels
const (
	WebhookConfirmed        = "confirmed"
	WebhookPaymentFailed    = "payment_failed"
	WebhookDuplicate        = "duplicate"
	WebhookUnknownOrder     = "unknown_order"
	WebhookAmountMismatch   = "amount_mismatch"
	WebhookNotHoldable      = "not_holdable"
	WebhookSeatsNotOwned    = "seats_not_owned"
	WebhookSignatureInvalid = "signature_invalid"
	WebhookIgnored          = "ignored"
	WebhookError            = "error"
)

// WebhookOutcome describes what a notification did
type WebhookOutcome struct {
	Result     string
	OrderCode  int64
	BookingID  *uuid.UUID
	TicketCode *string
}

// WebhookReconciler applies verified gateway notifications to bookings.
// Every decision is taken while the booking row is locked, so the sweeper
// and the reconciler never both move the same booking.
type WebhookReconciler struct {
	bookings  BookingStore
	verifier  WebhookVerifier
	audit     *AuditService
	publisher events.Publisher
	cfg       config.BookingConfig
	currency  string
	logger    *logrus.Logger
	now       Clock
}

// NewWebhookReconciler creates a new webhook reconciler
func NewWebhookReconciler(
	bookings BookingStore,
	verifier WebhookVerifier,
	audit *AuditService,
	publisher events.Publisher,
	cfg config.BookingConfig,
	currency string,
	logger *logrus.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		bookings:  bookings,
		verifier:  verifier,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		currency:  currency,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleWebhook authenticates body and reconciles it against its booking.
// The returned error is one of the typed domain errors (signature invalid,
// already processed, amount mismatch, not holdable, seats not owned) or a
// storage failure; unknown order codes are acknowledged without error. A
// payment that needs an operator but could not be queued for one reports
// WebhookError so the gateway delivers it again.
func (r *WebhookReconciler) HandleWebhook(ctx context.Context, body []byte, meta RequestMeta) (*WebhookOutcome, error) {
	start := time.Now()

	notification, err := r.verifier.VerifyWebhook(body)
	if err != nil {
		audit := models.NewPaymentAudit(models.PaymentEventSignatureInvalid, models.PaymentSourcePayOSWebhook).
			SetRawBody(string(body)).
			SetError(err.Error(), nil).
			SetProcessingTime(start)
		r.audit.Record(ctx, audit, meta)

		metrics.IncWebhook(WebhookSignatureInvalid)
		r.logger.WithError(err).WithField("ip", meta.IPAddress).Warn("⚠️ Rejected payment webhook with invalid signature")
		return &WebhookOutcome{Result: WebhookSignatureInvalid}, models.ErrSignatureInvalid
	}

	received := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourcePayOSWebhook).
		SetOrderCode(notification.OrderCode).
		SetPaymentLinkID(notification.PaymentLinkID).
		SetGatewayReference(notification.Reference).
		SetPaymentStatus(notification.Code).
		SetRawBody(string(body))
	r.audit.Record(ctx, received, meta)

	outcome := &WebhookOutcome{OrderCode: notification.OrderCode}
	var booking *models.Booking
	for attempt := 0; attempt < maxTicketCodeAttempts; attempt++ {
		booking, err = r.bookings.ReconcilePayment(ctx, notification.OrderCode, func(b *models.Booking) (models.PaymentDecision, error) {
			return r.decide(b, notification)
		})
		if !errors.Is(err, models.ErrTicketCodeCollision) {
			break
		}
		r.logger.WithField("order_code", notification.OrderCode).Warn("Ticket code collision, retrying confirmation")
	}

	if booking != nil {
		id := booking.ID
		outcome.BookingID = &id
	}

	outcome.Result = r.classify(booking, err)
	if auditErr := r.recordOutcome(ctx, notification, booking, outcome, err, start, meta); auditErr != nil && needsOperator(outcome.Result) {
		r.logger.WithError(auditErr).WithField("order_code", notification.OrderCode).
			Error("Payment needs manual reconciliation but could not be queued")
		outcome.Result = WebhookError
		err = fmt.Errorf("failed to flag payment for manual reconciliation: %w", auditErr)
	}
	metrics.IncWebhook(outcome.Result)

	switch outcome.Result {
	case WebhookConfirmed:
		outcome.TicketCode = booking.TicketCode
		metrics.IncTransition(string(models.BookingStatusConfirmed))
		r.publisher.Publish(ctx, events.BookingConfirmed, booking)
		return outcome, nil
	case WebhookPaymentFailed, WebhookIgnored, WebhookUnknownOrder:
		return outcome, nil
	}
	return outcome, err
}

// decide runs with the booking row locked
func (r *WebhookReconciler) decide(b *models.Booking, n *models.PaymentNotification) (models.PaymentDecision, error) {
	now := r.now()

	if b.PaymentStatus == models.PaymentStatusPaid {
		if !n.Success || n.Amount == b.TotalAmount {
			return models.PaymentDecision{}, models.ErrAlreadyProcessed
		}
		return models.PaymentDecision{}, models.ErrAmountMismatch
	}

	if !n.Success {
		if b.Status != models.BookingStatusHeld || b.PaymentStatus == models.PaymentStatusFailed {
			return models.PaymentDecision{Action: models.PaymentActionNone}, nil
		}
		// The booking stays held; the sweeper releases it if no later payment lands
		return models.PaymentDecision{Action: models.PaymentActionMarkFailed, At: now}, nil
	}

	if n.Amount != b.TotalAmount {
		return models.PaymentDecision{}, models.ErrAmountMismatch
	}

	if b.Status != models.BookingStatusHeld {
		return models.PaymentDecision{}, models.ErrBookingNotHoldable
	}

	ticketCode, err := utils.GenerateTicketCode(r.cfg.TicketCodePrefix, r.cfg.TicketCodeLength)
	if err != nil {
		return models.PaymentDecision{}, err
	}
	return models.PaymentDecision{
		Action:     models.PaymentActionConfirm,
		TicketCode: ticketCode,
		At:         now,
	}, nil
}

func (r *WebhookReconciler) classify(b *models.Booking, err error) string {
	switch {
	case err == nil && b != nil && b.Status == models.BookingStatusConfirmed && b.PaymentStatus == models.PaymentStatusPaid:
		return WebhookConfirmed
	case err == nil && b != nil && b.PaymentStatus == models.PaymentStatusFailed:
		return WebhookPaymentFailed
	case err == nil:
		return WebhookIgnored
	case errors.Is(err, models.ErrBookingNotFound):
		return WebhookUnknownOrder
	case errors.Is(err, models.ErrAlreadyProcessed):
		return WebhookDuplicate
	case errors.Is(err, models.ErrAmountMismatch):
		return WebhookAmountMismatch
	case errors.Is(err, models.ErrBookingNotHoldable):
		return WebhookNotHoldable
	case errors.Is(err, models.ErrSeatsNotOwned):
		return WebhookSeatsNotOwned
	default:
		return WebhookError
	}
}

func (r *WebhookReconciler) recordOutcome(
	ctx context.Context,
	n *models.PaymentNotification,
	b *models.Booking,
	outcome *WebhookOutcome,
	err error,
	start time.Time,
	meta RequestMeta,
) error {
	fields := logrus.Fields{
		"order_code": n.OrderCode,
		"amount":     n.Amount,
		"result":     outcome.Result,
	}
	if b != nil {
		fields["booking_id"] = b.ID
		fields["booking_status"] = b.Status
	}
	log := r.logger.WithFields(fields)

	var eventType models.PaymentEventType
	switch outcome.Result {
	case WebhookConfirmed:
		eventType = models.PaymentEventBookingConfirmed
		log.WithField("ticket_code", b.TicketCode).Info("✅ Booking confirmed by payment")
	case WebhookPaymentFailed:
		eventType = models.PaymentEventFailed
		log.Info("Payment reported failed, booking left held")
	case WebhookIgnored:
		eventType = models.PaymentEventFailed
		log.Info("Failure notification ignored")
	case WebhookUnknownOrder:
		eventType = models.PaymentEventUnknownOrder
		log.Warn("Payment webhook for unknown order code")
	case WebhookDuplicate:
		eventType = models.PaymentEventDuplicate
		log.Info("Duplicate payment notification")
	case WebhookAmountMismatch:
		eventType = models.PaymentEventReconciliationMismatch
		log.Error("Payment amount does not match booking total")
	case WebhookNotHoldable, WebhookSeatsNotOwned:
		eventType = models.PaymentEventBookingConfirmFailed
		log.WithError(err).Error("Paid booking could not be confirmed, refund required")
	default:
		eventType = models.PaymentEventError
		log.WithError(err).Error("Failed to reconcile payment webhook")
	}

	audit := models.NewPaymentAudit(eventType, models.PaymentSourcePayOSWebhook).
		SetOrderCode(n.OrderCode).
		SetPaymentLinkID(n.PaymentLinkID).
		SetGatewayReference(n.Reference).
		SetPaymentStatus(n.Code).
		SetProcessingTime(start)
	if b != nil {
		audit.SetBooking(b.ID)
		currency := n.Currency
		if currency == "" {
			currency = r.currency
		}
		// Only a success report carries an amount worth comparing
		if n.Success {
			audit.SetAmounts(b.TotalAmount, n.Amount, currency)
		}
	}
	if outcome.Result == WebhookDuplicate {
		audit.MarkAsDuplicate()
	}
	if err != nil && outcome.Result != WebhookDuplicate {
		audit.SetError(err.Error(), nil)
	}
	return r.audit.Record(ctx, audit, meta)
}

// needsOperator reports whether result is only visible through the
// reconciliation queue
func needsOperator(result string) bool {
	switch result {
	case WebhookAmountMismatch, WebhookNotHoldable, WebhookSeatsNotOwned:
		return true
	}
	return false
}
