package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in TokenClaims.Type
const (
	TokenTypeAccess        = "access"
	TokenTypePasswordReset = "password_reset"
)

type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}
