package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

const paymentAuditColumns = `id, booking_id, order_code, payment_link_id,
	event_type, event_source,
	expected_amount, received_amount, currency, amounts_match,
	payment_status, gateway_reference,
	request_payload, response_payload, raw_body,
	error_message, error_code,
	processing_time_ms, is_duplicate,
	ip_address, user_agent, created_at`

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment audit entry. Rows are never updated or deleted.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (` + paymentAuditColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15,
			$16, $17,
			$18, $19,
			$20, $21, $22
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.OrderCode, audit.PaymentLinkID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.GatewayReference,
		audit.RequestPayload, audit.ResponsePayload, audit.RawBody,
		audit.ErrorMessage, audit.ErrorCode,
		audit.ProcessingTimeMs, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"order_code": audit.OrderCode,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"order_code": audit.OrderCode,
	}).Debug("Payment audit logged")

	return nil
}

// GetByBookingID retrieves all audit entries for a booking in order
func (r *PaymentAuditRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking ID: %w", err)
	}
	return audits, nil
}

// GetReconciliationQueue returns the entries that need a human: amount
// mismatches and paid notifications that could not confirm a booking.
func (r *PaymentAuditRepository) GetReconciliationQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE amounts_match = FALSE
		   OR event_type = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &audits, query, models.PaymentEventBookingConfirmFailed, limit); err != nil {
		return nil, fmt.Errorf("failed to get reconciliation queue: %w", err)
	}
	return audits, nil
}
