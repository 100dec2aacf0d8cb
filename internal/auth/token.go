package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager issues and validates the HS256 tokens handed out after a gate passes
type TokenManager struct {
	secret            []byte
	accessTokenExpiry time.Duration
	resetTicketExpiry time.Duration
	clock             clock.Clock
}

func NewTokenManager(secret string, accessExpiry, resetExpiry time.Duration, c clock.Clock) *TokenManager {
	if c == nil {
		c = clock.System{}
	}
	return &TokenManager{
		secret:            []byte(secret),
		accessTokenExpiry: accessExpiry,
		resetTicketExpiry: resetExpiry,
		clock:             c,
	}
}

// GenerateAccessToken creates a short-lived access token for account
func (tm *TokenManager) GenerateAccessToken(account *models.Account) (string, error) {
	return tm.sign(models.TokenTypeAccess, account.ID, account.Email, account.Role, tm.accessTokenExpiry)
}

// GenerateResetTicket creates the short-lived ticket returned after a
// forgot-password OTP; its JTI is what callers mark as spent.
func (tm *TokenManager) GenerateResetTicket(userID, email string) (string, error) {
	return tm.sign(models.TokenTypePasswordReset, userID, email, "", tm.resetTicketExpiry)
}

func (tm *TokenManager) sign(tokenType, userID, email, role string, ttl time.Duration) (string, error) {
	now := tm.clock.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return token, nil
}

// ValidateToken verifies signature, lifetime and that the token is of wantType
func (tm *TokenManager) ValidateToken(tokenString, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid || claims.Type != wantType {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
