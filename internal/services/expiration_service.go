package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/lock"
	"github.com/smarttransit/seat-booking-backend/internal/metrics"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

const sweepLockKey = "booking-expiration-sweep"

// maxSweepBatches bounds one sweep so a run never loops indefinitely
const maxSweepBatches = 20

// SweepResult summarises one sweep cycle
type SweepResult struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Scanned     int           `json:"scanned"`
	Expired     int           `json:"expired"`
	LostRaces   int           `json:"lost_races"`
	Failed      int           `json:"failed"`
	LockSkipped bool          `json:"lock_skipped"`
}

// SweeperStatus is reported on the admin surface
type SweeperStatus struct {
	Running     bool         `json:"running"`
	Schedule    string       `json:"schedule"`
	ActiveHolds int          `json:"active_holds"`
	LastRun     *SweepResult `json:"last_run,omitempty"`
	NextRun     *time.Time   `json:"next_run,omitempty"`
}

// ExpirationService releases seats of holds whose window has closed. It runs
// on a cron schedule and is also invoked lazily when an overdue hold is read.
type ExpirationService struct {
	bookings  BookingStore
	gateway   PaymentGateway
	locker    lock.Locker
	publisher events.Publisher
	cfg       config.BookingConfig
	logger    *logrus.Logger
	now       Clock

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun *SweepResult
}

// NewExpirationService creates a new expiration service. gateway may be nil,
// in which case issued payment links are left to lapse on their own.
func NewExpirationService(
	bookings BookingStore,
	gateway PaymentGateway,
	locker lock.Locker,
	publisher events.Publisher,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *ExpirationService {
	if locker == nil {
		locker = lock.LocalLocker{}
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.SweepLockTTL <= 0 {
		cfg.SweepLockTTL = 25 * time.Second
	}
	cronLogger := cron.PrintfLogger(logger)
	return &ExpirationService{
		bookings:  bookings,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start schedules the sweep and runs one cycle immediately
func (s *ExpirationService) Start() error {
	entryID, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.sweepJob)
	if err != nil {
		return fmt.Errorf("failed to schedule expiration sweep %q: %w", s.cfg.SweepSchedule, err)
	}
	s.entryID = entryID

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	go s.sweepJob()

	s.logger.WithField("schedule", s.cfg.SweepSchedule).Info("🕐 Expiration sweeper started")
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *ExpirationService) Stop() {
	s.logger.Info("🛑 Stopping expiration sweeper")
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *ExpirationService) sweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepLockTTL)
	defer cancel()

	result, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Expiration sweep failed")
		return
	}
	if result.Expired > 0 || result.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"scanned":    result.Scanned,
			"expired":    result.Expired,
			"lost_races": result.LostRaces,
			"failed":     result.Failed,
			"duration":   result.Duration,
		}).Info("Expiration sweep finished")
	}
}

// RunOnce runs a single sweep cycle. Only one instance sweeps at a time when
// a distributed locker is configured; a skipped cycle reports LockSkipped.
func (s *ExpirationService) RunOnce(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{StartedAt: s.now()}

	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.SweepLockTTL)
	if err != nil {
		// Expiry is safe to run concurrently, so a lock outage only costs throughput
		s.logger.WithError(err).Warn("Sweep lock unavailable, sweeping without it")
	} else if !ok {
		result.LockSkipped = true
		return result, nil
	} else {
		defer release()
	}

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		metrics.ObserveSweep(result.Duration.Seconds())
		s.recordRun(result)
	}()

	for batch := 0; batch < maxSweepBatches; batch++ {
		now := s.now()
		due, err := s.bookings.ListExpiredHolds(ctx, now, s.cfg.SweepBatchSize)
		if err != nil {
			return result, err
		}
		result.Scanned += len(due)

		progressed := false
		for i := range due {
			expired, err := s.expire(ctx, due[i].ID, now)
			switch {
			case err != nil:
				result.Failed++
				s.logger.WithError(err).WithField("booking_id", due[i].ID).Error("Failed to expire hold")
			case expired == nil:
				result.LostRaces++
			default:
				result.Expired++
				progressed = true
			}
		}

		if len(due) < s.cfg.SweepBatchSize || !progressed {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	return result, nil
}

// ExpireIfDue expires b when its hold window has closed and returns the
// booking's current state. Bookings that are not overdue are returned as is.
func (s *ExpirationService) ExpireIfDue(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	now := s.now()
	if !b.IsHoldExpired(now) {
		return b, nil
	}

	expired, err := s.expire(ctx, b.ID, now)
	if err != nil {
		return nil, err
	}
	if expired != nil {
		return expired, nil
	}

	// Someone else moved it first; report what they left
	current, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return current, nil
}

// expire returns (nil, nil) when the booking was no longer expirable
func (s *ExpirationService) expire(ctx context.Context, id uuid.UUID, now time.Time) (*models.Booking, error) {
	expired, err := s.bookings.ExpireHold(ctx, id, now)
	if err != nil || expired == nil {
		return nil, err
	}

	metrics.IncTransition(string(models.BookingStatusExpired))
	s.logger.WithFields(logrus.Fields{
		"booking_id": expired.ID,
		"trip_id":    expired.TripID,
		"seats":      expired.SeatNumbers(),
	}).Info("Hold expired, seats released")

	s.publisher.Publish(ctx, events.BookingExpired, expired)
	cancelGatewayLink(ctx, s.gateway, s.logger, expired, "hold expired")
	return expired, nil
}

// Status reports the scheduler state and the last sweep
func (s *ExpirationService) Status(ctx context.Context) (*SweeperStatus, error) {
	active, err := s.bookings.CountActiveHolds(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	status := &SweeperStatus{
		Running:     s.running,
		Schedule:    s.cfg.SweepSchedule,
		ActiveHolds: active,
	}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	s.mu.Unlock()

	if s.entryID != 0 {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status, nil
}

func (s *ExpirationService) recordRun(result *SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.lastRun = &copied
}

// cancelGatewayLink asks the gateway to void an issued link so the customer
// can no longer pay for a booking that has released its seats. Best effort.
func cancelGatewayLink(ctx context.Context, gateway PaymentGateway, logger *logrus.Logger, b *models.Booking, reason string) {
	if gateway == nil || b.PaymentOrderCode == nil || b.PaymentLink == nil {
		return
	}

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := gateway.CancelPaymentLink(cancelCtx, *b.PaymentOrderCode, reason); err != nil {
		entry := logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"order_code": *b.PaymentOrderCode,
		})
		if errors.Is(err, models.ErrGatewayUnavailable) {
			entry.Warn("Payment gateway unavailable, link left to lapse")
			return
		}
		entry.Warn("Failed to cancel payment link")
	}
}
