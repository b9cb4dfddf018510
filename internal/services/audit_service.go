package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/utils"
)

// AuditService appends payment audit entries. Failures are logged and
// returned; most callers carry on, but entries that queue a payment for an
// operator must be written.
type AuditService struct {
	store  PaymentAuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store PaymentAuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// RequestMeta carries the caller's network identity into audit rows
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Record writes the entry, stamping request metadata when present
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit, meta RequestMeta) error {
	if s == nil || s.store == nil {
		return nil
	}
	if meta.IPAddress != "" || meta.UserAgent != "" {
		audit.SetMetadata(meta.IPAddress, meta.UserAgent)
		if meta.UserAgent != "" {
			device := utils.ParseUserAgent(meta.UserAgent)
			if audit.RequestPayload == nil {
				audit.RequestPayload = models.JSONB{}
			}
			audit.RequestPayload["device"] = device.Summary()
		}
	}

	if err := s.store.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"order_code": audit.OrderCode,
		}).Error("Failed to write payment audit")
		return err
	}
	return nil
}

// History returns every audit row for a booking, oldest first
func (s *AuditService) History(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	return s.store.GetByBookingID(ctx, bookingID)
}

// ReconciliationQueue returns audits that need an operator: amount
// mismatches and payments that could not be applied to their booking
func (s *AuditService) ReconciliationQueue(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.GetReconciliationQueue(ctx, limit)
}
