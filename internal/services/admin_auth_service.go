package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/pkg/jwt"
	"golang.org/x/crypto/bcrypt"
)

// AdminRole is the role carried by operator access tokens
const AdminRole = "admin"

// AdminAuthService handles admin authentication against the configured
// operator account
type AdminAuthService struct {
	cfg        config.AdminConfig
	jwtService *jwt.Service
	logger     *logrus.Logger
}

// NewAdminAuthService creates a new admin auth service
func NewAdminAuthService(cfg config.AdminConfig, jwtService *jwt.Service, logger *logrus.Logger) *AdminAuthService {
	return &AdminAuthService{
		cfg:        cfg,
		jwtService: jwtService,
		logger:     logger,
	}
}

// AdminID derives a stable operator id from the username
func AdminID(username string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("seat-booking-admin:"+username))
}

// Login authenticates the operator and returns an access token
func (s *AdminAuthService) Login(ctx context.Context, username, password string) (*models.AdminLoginResponse, error) {
	if s.cfg.PasswordHash == "" {
		s.logger.Warn("Admin login attempted but ADMIN_PASSWORD_HASH is not set")
		return nil, models.ErrInvalidCredentials
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	// Always run bcrypt so an unknown username costs the same as a bad password
	passwordErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	if !usernameOK || passwordErr != nil {
		s.logger.WithField("username", username).Warn("Admin login failed")
		return nil, models.ErrInvalidCredentials
	}

	admin := &models.AdminUser{
		ID:       AdminID(s.cfg.Username),
		Username: s.cfg.Username,
	}

	accessToken, err := s.jwtService.GenerateAccessToken(admin.ID, admin.Username, []string{AdminRole})
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	s.logger.WithField("username", admin.Username).Info("Admin logged in")

	return &models.AdminLoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtService.AccessTokenExpiry().Seconds()),
		AdminUser:   admin,
	}, nil
}

// HashPassword hashes an operator password for ADMIN_PASSWORD_HASH
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
