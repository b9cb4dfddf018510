// Command sweeper runs one hold expiration sweep and exits, for deployments
// that schedule sweeps externally.
package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/database"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/lock"
	"github.com/smarttransit/seat-booking-backend/internal/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var locker lock.Locker
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Redis.Addr != "" {
		client := lock.NewRedisClient(cfg.Redis)
		defer client.Close()
		locker = lock.NewRedisLocker(client)

		if cfg.Events.Backend == "redisstream" {
			pub, sub, err := events.NewRedisStreamPubSub(client, cfg.Events.ConsumerGroup, logger)
			if err != nil {
				logger.Fatalf("Failed to initialize event stream: %v", err)
			}
			sub.Close()
			wp := events.NewWatermillPublisher(pub, logger)
			defer wp.Close()
			publisher = wp
		}
	}

	seatLedger := database.NewSeatLedgerRepository(db.DB)
	bookings := database.NewBookingRepository(db.DB, seatLedger)
	payOS := services.NewPayOSService(&cfg.Payment, logger)
	sweeper := services.NewExpirationService(bookings, payOS, locker, publisher, cfg.Booking, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		logger.Fatalf("Sweep failed: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"scanned":      result.Scanned,
		"expired":      result.Expired,
		"lost_races":   result.LostRaces,
		"failed":       result.Failed,
		"lock_skipped": result.LockSkipped,
		"duration_ms":  result.Duration.Milliseconds(),
	}).Info("Sweep finished")
}
