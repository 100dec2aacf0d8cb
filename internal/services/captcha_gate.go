package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
)

// OtpTrackingRepository persists per (email, ip) OTP counters. Every write is
// a single statement on the stored row, so concurrent requests never
// overwrite each other's increments.
type OtpTrackingRepository interface {
	GetOrCreate(ctx context.Context, email, ip, userAgent string, now time.Time, window time.Duration) (*models.OtpTracking, error)
	Evaluate(ctx context.Context, id string, now time.Time, window time.Duration, threshold int) (*models.OtpTracking, error)
	IncrementRequestCount(ctx context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error)
	IncrementFailedAttempts(ctx context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error)
	MarkCaptchaVerified(ctx context.Context, id string, now time.Time) (*models.OtpTracking, error)
	Reset(ctx context.Context, id string, now time.Time, window time.Duration) (*models.OtpTracking, error)
}

// CaptchaGate decides when an OTP scope must solve a CAPTCHA.
// Read and write failures fail open: a missing record never requires a CAPTCHA.
type CaptchaGate struct {
	repo      OtpTrackingRepository
	logger    *slog.Logger
	clock     clock.Clock
	window    time.Duration
	threshold int
}

func NewCaptchaGate(repo OtpTrackingRepository, logger *slog.Logger, c clock.Clock, window time.Duration, threshold int) *CaptchaGate {
	if c == nil {
		c = clock.System{}
	}
	return &CaptchaGate{repo: repo, logger: logger, clock: c, window: window, threshold: threshold}
}

// GetOrCreateTracking returns the tracking record for the scope, or nil on error
func (g *CaptchaGate) GetOrCreateTracking(ctx context.Context, email, ip, userAgent string) *models.OtpTracking {
	t, err := g.repo.GetOrCreate(ctx, email, ip, userAgent, g.clock.Now(), g.window)
	if err != nil {
		g.logger.Error("failed to load otp tracking", slog.Any("error", err))
		return nil
	}
	return t
}

// CheckCaptchaRequirement resets a stale record and recomputes
// RequiresCaptcha from the stored counters. When the store is unreachable the
// decision is made on the in-memory copy.
func (g *CaptchaGate) CheckCaptchaRequirement(ctx context.Context, t *models.OtpTracking) bool {
	if t == nil {
		return false
	}
	now := g.clock.Now()

	updated, err := g.repo.Evaluate(ctx, t.ID, now, g.window, g.threshold)
	if err != nil {
		g.logger.Error("failed to evaluate otp tracking", slog.Any("error", err))
		g.evaluateLocal(t, now)
		return t.RequiresCaptcha
	}
	*t = *updated
	return t.RequiresCaptcha
}

func (g *CaptchaGate) evaluateLocal(t *models.OtpTracking, now time.Time) {
	if !now.Before(t.CreatedAt.Add(g.window)) {
		t.OtpRequestCount = 0
		t.FailedOtpAttempts = 0
		t.CreatedAt = now
		t.ExpiresAt = now.Add(g.window)
	}
	t.RequiresCaptcha = t.OtpRequestCount >= g.threshold || t.FailedOtpAttempts >= g.threshold
}

// IncrementOtpRequest counts an issued code; the store re-evaluates the
// requirement in the same write
func (g *CaptchaGate) IncrementOtpRequest(ctx context.Context, t *models.OtpTracking) {
	if t == nil {
		return
	}
	updated, err := g.repo.IncrementRequestCount(ctx, t.ID, g.clock.Now(), g.threshold)
	if err != nil {
		g.logger.Error("failed to increment otp request count", slog.Any("error", err))
		return
	}
	*t = *updated
}

// IncrementFailedAttempt counts a wrong code
func (g *CaptchaGate) IncrementFailedAttempt(ctx context.Context, t *models.OtpTracking) {
	if t == nil {
		return
	}
	updated, err := g.repo.IncrementFailedAttempts(ctx, t.ID, g.clock.Now(), g.threshold)
	if err != nil {
		g.logger.Error("failed to increment otp failure count", slog.Any("error", err))
		return
	}
	*t = *updated
}

// VerifyCaptcha clears the requirement for this scope only.
// Counters are kept, so the next request past the threshold asks again.
func (g *CaptchaGate) VerifyCaptcha(ctx context.Context, t *models.OtpTracking) {
	if t == nil {
		return
	}
	now := g.clock.Now()
	updated, err := g.repo.MarkCaptchaVerified(ctx, t.ID, now)
	if err != nil {
		g.logger.Error("failed to save captcha verification", slog.Any("error", err))
		t.RequiresCaptcha = false
		t.CaptchaVerifiedAt = &now
		return
	}
	*t = *updated
}

// ResetTracking forgives all counters for the scope
func (g *CaptchaGate) ResetTracking(ctx context.Context, t *models.OtpTracking) {
	if t == nil {
		return
	}
	updated, err := g.repo.Reset(ctx, t.ID, g.clock.Now(), g.window)
	if err != nil {
		g.logger.Error("failed to reset otp tracking", slog.Any("error", err))
		return
	}
	*t = *updated
}
