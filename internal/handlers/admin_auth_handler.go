package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/middleware"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// AdminAuthenticator checks operator credentials
type AdminAuthenticator interface {
	Login(ctx context.Context, username, password string) (*models.AdminLoginResponse, error)
}

// AdminAuthHandler handles admin authentication HTTP requests
type AdminAuthHandler struct {
	auth   AdminAuthenticator
	logger *logrus.Logger
}

// NewAdminAuthHandler creates a new admin auth handler
func NewAdminAuthHandler(auth AdminAuthenticator, logger *logrus.Logger) *AdminAuthHandler {
	return &AdminAuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// Login handles admin login requests
// POST /api/v1/admin/login
func (h *AdminAuthHandler) Login(c *gin.Context) {
	var req models.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	response, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"username": req.Username,
			"ip":       c.ClientIP(),
		}).Warn("Admin login failed")
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithField("username", response.AdminUser.Username).Info("Admin login successful")
	c.JSON(http.StatusOK, response)
}

// GetProfile returns the authenticated operator
// GET /api/v1/admin/me
func (h *AdminAuthHandler) GetProfile(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, models.AdminUser{ID: userCtx.UserID, Username: userCtx.Username})
}
