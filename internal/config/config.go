package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Admin operator credentials
	Admin AdminConfig

	// Booking / hold rules
	Booking BookingConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Redis configuration (sweeper lock, event stream)
	Redis RedisConfig

	// Domain event publishing
	Events EventsConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "pgx" or "postgres" (lib/pq)
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// AdminConfig holds the single operator account
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt hash, see cmd/generate-secrets
}

// BookingConfig holds seat hold rules
type BookingConfig struct {
	HoldWindow         time.Duration
	MaxSeatsPerBooking int
	SweepSchedule      string // robfig/cron spec, e.g. "@every 30s"
	SweepBatchSize     int
	SweepLockTTL       time.Duration
	TicketCodePrefix   string
	TicketCodeLength   int
}

// PaymentConfig holds payOS gateway configuration
type PaymentConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string // SECRET - used for request and webhook signatures
	ReturnURL   string
	CancelURL   string
	Currency    string
	Timeout     time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects the domain event transport
type EventsConfig struct {
	Backend       string // "gochannel" or "redisstream"
	ConsumerGroup string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost       int
	EnableRequestLog bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "pgx"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Booking: BookingConfig{
			HoldWindow:         getEnvAsDuration("HOLD_WINDOW", 15*time.Minute),
			MaxSeatsPerBooking: getEnvAsInt("MAX_SEATS_PER_BOOKING", 5),
			SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 30s"),
			SweepBatchSize:     getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			SweepLockTTL:       getEnvAsDuration("SWEEP_LOCK_TTL", 25*time.Second),
			TicketCodePrefix:   getEnv("TICKET_CODE_PREFIX", "VX"),
			TicketCodeLength:   getEnvAsInt("TICKET_CODE_LENGTH", 8),
		},
		Payment: PaymentConfig{
			BaseURL:     getEnv("PAYOS_BASE_URL", "https://api-merchant.payos.vn"),
			ClientID:    getEnv("PAYOS_CLIENT_ID", ""),
			APIKey:      getEnv("PAYOS_API_KEY", ""),
			ChecksumKey: getEnv("PAYOS_CHECKSUM_KEY", ""),
			ReturnURL:   getEnv("PAYOS_RETURN_URL", ""),
			CancelURL:   getEnv("PAYOS_CANCEL_URL", ""),
			Currency:    getEnv("PAYMENT_CURRENCY", "VND"),
			Timeout:     getEnvAsDuration("PAYOS_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Events: EventsConfig{
			Backend:       getEnv("EVENTS_BACKEND", "gochannel"),
			ConsumerGroup: getEnv("EVENTS_CONSUMER_GROUP", "booking-event-log"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 2),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'pgx' or 'postgres')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldWindow <= 0 {
		return fmt.Errorf("HOLD_WINDOW must be positive")
	}

	if c.Booking.MaxSeatsPerBooking < 1 {
		return fmt.Errorf("MAX_SEATS_PER_BOOKING must be at least 1")
	}

	if c.Booking.TicketCodeLength < 6 {
		return fmt.Errorf("TICKET_CODE_LENGTH must be at least 6")
	}

	if c.Events.Backend != "gochannel" && c.Events.Backend != "redisstream" {
		return fmt.Errorf("invalid EVENTS_BACKEND: %s (must be 'gochannel' or 'redisstream')", c.Events.Backend)
	}

	if c.Events.Backend == "redisstream" && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when EVENTS_BACKEND=redisstream")
	}

	// Gateway credentials are mandatory outside development
	if c.Server.Environment == "production" {
		if c.Payment.ClientID == "" || c.Payment.APIKey == "" || c.Payment.ChecksumKey == "" {
			return fmt.Errorf("PAYOS_CLIENT_ID, PAYOS_API_KEY and PAYOS_CHECKSUM_KEY are required in production")
		}
		if c.Admin.PasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required in production")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("15m") or plain seconds ("900")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
