package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/estateguard/internal/models"
)

func TestCaptchaGate_ThirdRequestEscalates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tracking := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	require.NotNil(t, tracking)

	env.gate.IncrementOtpRequest(ctx, tracking)
	env.gate.IncrementOtpRequest(ctx, tracking)
	assert.Equal(t, 2, tracking.OtpRequestCount)
	assert.False(t, tracking.RequiresCaptcha)

	env.gate.IncrementOtpRequest(ctx, tracking)
	assert.True(t, tracking.RequiresCaptcha)

	env.clock.Advance(time.Minute)
	env.gate.VerifyCaptcha(ctx, tracking)
	assert.False(t, tracking.RequiresCaptcha)
	require.NotNil(t, tracking.CaptchaVerifiedAt)
	assert.Equal(t, testStart.Add(time.Minute), *tracking.CaptchaVerifiedAt)

	reloaded := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	assert.False(t, reloaded.RequiresCaptcha, "verification must be persisted")
}

func TestCaptchaGate_FailedAttemptsEscalate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tracking := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	for i := 0; i < 3; i++ {
		env.gate.IncrementFailedAttempt(ctx, tracking)
	}
	assert.Equal(t, 3, tracking.FailedOtpAttempts)
	assert.True(t, env.gate.CheckCaptchaRequirement(ctx, tracking))
}

func TestCaptchaGate_SlidingReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tracking := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	for i := 0; i < 4; i++ {
		env.gate.IncrementOtpRequest(ctx, tracking)
	}
	require.True(t, tracking.RequiresCaptcha)

	env.clock.Advance(10 * time.Minute)
	assert.False(t, env.gate.CheckCaptchaRequirement(ctx, tracking))
	assert.Zero(t, tracking.OtpRequestCount)
	assert.Zero(t, tracking.FailedOtpAttempts)
	assert.Equal(t, testStart.Add(10*time.Minute), tracking.CreatedAt)
}

func TestCaptchaGate_ScopesAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	b := env.gate.GetOrCreateTracking(ctx, "a@example.com", "198.51.100.2", "ua")
	for i := 0; i < 3; i++ {
		env.gate.IncrementOtpRequest(ctx, a)
		env.gate.IncrementOtpRequest(ctx, b)
	}
	require.True(t, a.RequiresCaptcha)
	require.True(t, b.RequiresCaptcha)

	env.gate.VerifyCaptcha(ctx, a)

	b = env.gate.GetOrCreateTracking(ctx, "a@example.com", "198.51.100.2", "ua")
	assert.True(t, b.RequiresCaptcha)
}

func TestCaptchaGate_ResetTracking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tracking := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	for i := 0; i < 3; i++ {
		env.gate.IncrementFailedAttempt(ctx, tracking)
	}
	env.gate.ResetTracking(ctx, tracking)

	reloaded := env.gate.GetOrCreateTracking(ctx, "a@example.com", "203.0.113.7", "ua")
	assert.Zero(t, reloaded.FailedOtpAttempts)
	assert.False(t, reloaded.RequiresCaptcha)
}

func TestCaptchaGate_FailsOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.False(t, env.gate.CheckCaptchaRequirement(ctx, nil))
	env.gate.IncrementOtpRequest(ctx, nil)
	env.gate.VerifyCaptcha(ctx, nil)
	env.gate.ResetTracking(ctx, nil)

	env.tracking.EvaluateFunc = func(context.Context, string) (*models.OtpTracking, error) {
		return nil, errFake("evaluate")
	}
	tracking := &models.OtpTracking{ID: "t-1", OtpRequestCount: 3, CreatedAt: testStart}
	assert.True(t, env.gate.CheckCaptchaRequirement(ctx, tracking), "store errors fall back to the in-memory counters")
}

func TestCaptchaGate_InterleavedIncrementsAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const email, ip = "a@example.com", "203.0.113.7"

	first := env.gate.GetOrCreateTracking(ctx, email, ip, "ua")
	second := env.gate.GetOrCreateTracking(ctx, email, ip, "ua")

	interleaved := false
	env.tracking.AfterIncrement = func() {
		if interleaved {
			return
		}
		interleaved = true
		env.gate.IncrementOtpRequest(ctx, second)
	}

	env.gate.IncrementOtpRequest(ctx, first)
	env.gate.CheckCaptchaRequirement(ctx, first)

	stored := env.tracking.Stored(email, ip)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.OtpRequestCount)
	assert.Equal(t, 2, first.OtpRequestCount, "re-evaluation reads the committed counters")
}

func TestCaptchaGate_StaleSnapshotDoesNotOverwriteCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const email, ip = "a@example.com", "203.0.113.7"

	stale := env.gate.GetOrCreateTracking(ctx, email, ip, "ua")
	live := env.gate.GetOrCreateTracking(ctx, email, ip, "ua")
	for i := 0; i < 3; i++ {
		env.gate.IncrementFailedAttempt(ctx, live)
	}

	require.Zero(t, stale.FailedOtpAttempts)
	assert.True(t, env.gate.CheckCaptchaRequirement(ctx, stale))
	env.gate.VerifyCaptcha(ctx, stale)

	stored := env.tracking.Stored(email, ip)
	assert.Equal(t, 3, stored.FailedOtpAttempts)
	assert.False(t, stored.RequiresCaptcha)
	assert.True(t, env.gate.CheckCaptchaRequirement(ctx, live), "counters at the threshold ask again")
}
