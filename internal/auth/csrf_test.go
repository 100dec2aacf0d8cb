package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*auth.CSRFGuard, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	return auth.NewCSRFGuard(store.NewMemory[models.CsrfToken](c), time.Hour, c), c
}

func TestCSRFGuard_SingleUse(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "fp-1")
	require.NoError(t, err)
	assert.Len(t, tok.Token, 64)

	assert.NoError(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-1"))
	assert.ErrorIs(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-1"), models.ErrCSRFInvalid)
}

func TestCSRFGuard_Expired(t *testing.T) {
	guard, c := newGuard(t)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "fp-1")
	require.NoError(t, err)

	c.Advance(time.Hour)
	assert.ErrorIs(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-1"), models.ErrCSRFInvalid)
}

func TestCSRFGuard_FingerprintMismatchDoesNotConsume(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "fp-owner")
	require.NoError(t, err)

	assert.ErrorIs(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-attacker"), models.ErrCSRFInvalid)
	assert.NoError(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-owner"))
}

func TestCSRFGuard_CookieMustMatchHeader(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	tok, err := guard.Issue(ctx, "fp-1")
	require.NoError(t, err)

	assert.ErrorIs(t, guard.Validate(ctx, tok.Token, "", "fp-1"), models.ErrCSRFInvalid)
	assert.ErrorIs(t, guard.Validate(ctx, "", "", "fp-1"), models.ErrCSRFInvalid)
	assert.ErrorIs(t, guard.Validate(ctx, tok.Token, "other", "fp-1"), models.ErrCSRFInvalid)
	assert.NoError(t, guard.Validate(ctx, tok.Token, tok.Token, "fp-1"))
}

func TestCSRFGuard_UnknownToken(t *testing.T) {
	guard, _ := newGuard(t)
	assert.ErrorIs(t, guard.Validate(context.Background(), "nope", "nope", "fp"), models.ErrCSRFInvalid)
}

func TestCSRFGuard_Sweep(t *testing.T) {
	guard, c := newGuard(t)
	ctx := context.Background()

	_, err := guard.Issue(ctx, "a")
	require.NoError(t, err)
	_, err = guard.Issue(ctx, "b")
	require.NoError(t, err)

	c.Advance(2 * time.Hour)
	removed, err := guard.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestCSRFGuard_SingleUseUnderConcurrencyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := clock.NewFake(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	guard := auth.NewCSRFGuard(store.NewRedis[models.CsrfToken](client, "csrf:"), time.Hour, c)
	ctx := context.Background()

	const (
		tokens   = 25
		requests = 8
	)
	for i := 0; i < tokens; i++ {
		tok, err := guard.Issue(ctx, "fp-1")
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for j := 0; j < requests; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if guard.Validate(ctx, tok.Token, tok.Token, "fp-1") == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, accepted, "token %d accepted by %d requests", i, accepted)
	}
}
