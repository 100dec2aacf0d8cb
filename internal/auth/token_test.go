package auth_test

import (
	"testing"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-test-secret-that-is-long-enough"

func TestTokenManager_AccessToken(t *testing.T) {
	c := clock.NewFake(time.Now())
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, 10*time.Minute, c)

	token, err := tm.GenerateAccessToken(&models.Account{ID: "u-1", Email: "a@b.com", Role: models.RoleAdmin})
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = tm.ValidateToken(token, models.TokenTypePasswordReset)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "an access token is not a reset ticket")
}

func TestTokenManager_Expiry(t *testing.T) {
	c := clock.NewFake(time.Now())
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, 10*time.Minute, c)

	ticket, err := tm.GenerateResetTicket("u-1", "a@b.com")
	require.NoError(t, err)

	c.Advance(11 * time.Minute)
	_, err = tm.ValidateToken(ticket, models.TokenTypePasswordReset)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	issuer := auth.NewTokenManager("another-secret-entirely-0123456", time.Minute, time.Minute, nil)
	verifier := auth.NewTokenManager(testSecret, time.Minute, time.Minute, nil)

	token, err := issuer.GenerateAccessToken(&models.Account{ID: "u-1"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token, models.TokenTypeAccess)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
