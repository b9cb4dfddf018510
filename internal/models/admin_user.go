package models

import (
	"github.com/google/uuid"
)

// AdminUser is an operator allowed to run administrative booking actions.
// Operators are provisioned through configuration, not a table.
type AdminUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// AdminLoginRequest represents the login request payload
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

// AdminLoginResponse represents the login response
type AdminLoginResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	AdminUser   *AdminUser `json:"admin_user"`
}
