package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
)

const csrfTokenBytes = 32

// CSRFGuard issues one-time tokens bound to a requester fingerprint
type CSRFGuard struct {
	tokens store.Store[models.CsrfToken]
	ttl    time.Duration
	clock  clock.Clock
}

func NewCSRFGuard(tokens store.Store[models.CsrfToken], ttl time.Duration, c clock.Clock) *CSRFGuard {
	if c == nil {
		c = clock.System{}
	}
	return &CSRFGuard{tokens: tokens, ttl: ttl, clock: c}
}

func (g *CSRFGuard) TTL() time.Duration {
	return g.ttl
}

// Issue creates and stores a fresh token for fingerprint
func (g *CSRFGuard) Issue(ctx context.Context, fingerprint string) (*models.CsrfToken, error) {
	value, err := pkgauth.GenerateSecureToken(csrfTokenBytes)
	if err != nil {
		return nil, err
	}

	token := models.CsrfToken{
		Token:       value,
		Fingerprint: fingerprint,
		ExpiresAt:   g.clock.Now().Add(g.ttl),
	}
	if err := g.tokens.Set(ctx, value, token, g.ttl); err != nil {
		return nil, fmt.Errorf("store csrf token: %w", err)
	}
	return &token, nil
}

// Validate consumes token if it is live, matches the cookie copy and was
// issued to fingerprint. A fingerprint mismatch leaves the token in place so
// a forged request cannot burn the owner's token.
func (g *CSRFGuard) Validate(ctx context.Context, token, cookieToken, fingerprint string) error {
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cookieToken)) != 1 {
		return models.ErrCSRFInvalid
	}

	now := g.clock.Now()
	valid := false
	err := g.tokens.Update(ctx, token, func(cur models.CsrfToken, found bool) store.Mutation[models.CsrfToken] {
		valid = false
		if !found {
			return store.Remove[models.CsrfToken]()
		}
		if !now.Before(cur.ExpiresAt) {
			return store.Remove[models.CsrfToken]()
		}
		if subtle.ConstantTimeCompare([]byte(cur.Fingerprint), []byte(fingerprint)) != 1 {
			return store.Put(cur, cur.ExpiresAt.Sub(now))
		}
		valid = true
		return store.Remove[models.CsrfToken]()
	})
	if err != nil {
		return fmt.Errorf("validate csrf token: %w", err)
	}
	if !valid {
		return models.ErrCSRFInvalid
	}
	return nil
}

// Sweep drops expired tokens
func (g *CSRFGuard) Sweep(ctx context.Context) (int, error) {
	return g.tokens.Sweep(ctx)
}
