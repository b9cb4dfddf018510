package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/database"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/handlers"
	"github.com/smarttransit/seat-booking-backend/internal/lock"
	"github.com/smarttransit/seat-booking-backend/internal/metrics"
	"github.com/smarttransit/seat-booking-backend/internal/middleware"
	"github.com/smarttransit/seat-booking-backend/internal/services"
	"github.com/smarttransit/seat-booking-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Seat Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Redis backs the sweep lock and the event stream when configured
	var redisClient *redis.Client
	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		redisClient = lock.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient)
		logger.WithField("addr", cfg.Redis.Addr).Info("Redis configured for sweep lock")
	} else {
		logger.Info("Redis not configured, sweeps are not coordinated across instances")
	}

	// Domain events
	eventCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()

	var (
		eventPublisher  message.Publisher
		eventSubscriber message.Subscriber
	)
	switch cfg.Events.Backend {
	case "redisstream":
		pub, sub, err := events.NewRedisStreamPubSub(redisClient, cfg.Events.ConsumerGroup, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize event stream: %v", err)
		}
		eventPublisher, eventSubscriber = pub, sub
	default:
		pubSub := events.NewGoChannelPubSub(logger)
		eventPublisher, eventSubscriber = pubSub, pubSub
	}
	publisher := events.NewWatermillPublisher(eventPublisher, logger)
	defer publisher.Close()
	if err := events.RunLogSink(eventCtx, eventSubscriber, logger); err != nil {
		logger.Fatalf("Failed to start event log sink: %v", err)
	}
	logger.WithField("backend", cfg.Events.Backend).Info("Domain events enabled")

	metrics.Register()

	// Repositories
	seatLedger := database.NewSeatLedgerRepository(db.DB)
	bookingRepository := database.NewBookingRepository(db.DB, seatLedger)
	tripRepository := database.NewTripRepository(db.DB)
	paymentAuditRepository := database.NewPaymentAuditRepository(db.DB, logger)

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	payOS := services.NewPayOSService(&cfg.Payment, logger)
	if !payOS.IsConfigured() {
		logger.Warn("payOS credentials missing, payment links cannot be issued")
	}

	auditService := services.NewAuditService(paymentAuditRepository, logger)
	holdService := services.NewHoldService(bookingRepository, tripRepository, publisher, cfg.Booking, logger)
	expirationService := services.NewExpirationService(bookingRepository, payOS, locker, publisher, cfg.Booking, logger)
	intentService := services.NewPaymentIntentService(bookingRepository, payOS, expirationService, auditService, cfg.Payment.Currency, logger)
	reconciler := services.NewWebhookReconciler(bookingRepository, payOS, auditService, publisher, cfg.Booking, cfg.Payment.Currency, logger)
	lookupService := services.NewLookupService(bookingRepository, tripRepository, seatLedger, expirationService, logger)
	cancellationService := services.NewCancellationService(bookingRepository, tripRepository, payOS, expirationService, publisher, logger)
	adminAuthService := services.NewAdminAuthService(cfg.Admin, jwtService, logger)

	if err := expirationService.Start(); err != nil {
		logger.Fatalf("Failed to start expiration sweeper: %v", err)
	}
	logger.WithField("schedule", cfg.Booking.SweepSchedule).Info("✓ Expiration sweeper started")

	logger.Info("Services initialized")

	// Handlers
	bookingHandler := handlers.NewBookingHandler(holdService, intentService, lookupService, cancellationService, logger)
	paymentHandler := handlers.NewPaymentHandler(reconciler, lookupService, logger)
	adminAuthHandler := handlers.NewAdminAuthHandler(adminAuthService, logger)
	adminHandler := handlers.NewAdminHandler(expirationService, cancellationService, auditService, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger, cfg.Security.EnableRequestLog))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(db, redisClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		bookings.Use(limiter.Middleware())
		{
			bookings.POST("/hold", bookingHandler.CreateHold)
			bookings.POST("/lookup", bookingHandler.Lookup)
			bookings.POST("/:id/payment-link", bookingHandler.IssuePaymentLink)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
		}

		v1.GET("/trips/:id/seats", bookingHandler.GetTripSeats)

		// Gateway callbacks are not rate limited
		payments := v1.Group("/payments")
		{
			payments.POST("/webhook", paymentHandler.Webhook)
			payments.GET("/return", paymentHandler.Return)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/login", limiter.Middleware(), adminAuthHandler.Login)

			protected := admin.Group("")
			protected.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(services.AdminRole))
			{
				protected.GET("/me", adminAuthHandler.GetProfile)
				protected.POST("/sweeper/run", adminHandler.RunSweeper)
				protected.GET("/sweeper/status", adminHandler.SweeperStatus)
				protected.POST("/bookings/:id/cancel", adminHandler.CancelBooking)
				protected.GET("/bookings/:id/payments", adminHandler.PaymentHistory)
				protected.POST("/trips/:id/complete", adminHandler.CompleteTrip)
				protected.GET("/reconciliation/mismatches", adminHandler.ReconciliationMismatches)
			}
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping expiration sweeper...")
	expirationService.Stop()
	stopEvents()

	logger.Info("Server exited successfully")
}

// healthCheckHandler reports database and Redis reachability
func healthCheckHandler(db database.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := gin.H{"database": "healthy"}
		healthy := true

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			healthy = false
		}
		if redisClient != nil {
			checks["redis"] = "healthy"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				healthy = false
			}
		}

		status := http.StatusOK
		checks["status"] = "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			checks["status"] = "unhealthy"
		}
		checks["version"] = version
		checks["timestamp"] = time.Now().Unix()
		c.JSON(status, checks)
	}
}
