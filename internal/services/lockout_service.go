package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// LoginAttemptRepository is the durable attempt log
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailures(ctx context.Context, identifier string, since time.Time) (int, error)
	DeleteFailures(ctx context.Context, identifier string, since time.Time) (int64, error)
}

// LockoutRepository stores one "locked until" record per subject
type LockoutRepository interface {
	Upsert(ctx context.Context, lockout *models.Lockout) (*models.Lockout, error)
	Get(ctx context.Context, subjectKey string) (*models.Lockout, error)
	Delete(ctx context.Context, subjectKey string) error
}

// LockTokenStore is the slice of the account store the root-admin path needs
type LockTokenStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	SetSecurityLockToken(ctx context.Context, id, token string, expiresAt time.Time) error
}

// LockoutPolicy is the brute-force ladder
type LockoutPolicy struct {
	Window            time.Duration
	AlertThreshold    int
	LockoutThreshold  int
	CoolDownThreshold int
	LockoutDuration   time.Duration
	AttemptRetention  time.Duration
	LockLinkTTL       time.Duration
	AppURLBase        string
}

// FailedLogin describes one rejected credential check
type FailedLogin struct {
	Identifier string
	UserID     string
	Email      string
	IPAddress  string
	UserAgent  string
}

// LockoutService is the brute-force lockout engine
type LockoutService struct {
	attempts LoginAttemptRepository
	lockouts LockoutRepository
	accounts LockTokenStore
	mailer   EmailSender
	security *pkglogger.SecurityLogger
	logger   *slog.Logger
	clock    clock.Clock
	policy   LockoutPolicy
}

func NewLockoutService(
	attempts LoginAttemptRepository,
	lockouts LockoutRepository,
	accounts LockTokenStore,
	mailer EmailSender,
	security *pkglogger.SecurityLogger,
	logger *slog.Logger,
	c clock.Clock,
	policy LockoutPolicy,
) *LockoutService {
	if c == nil {
		c = clock.System{}
	}
	return &LockoutService{
		attempts: attempts,
		lockouts: lockouts,
		accounts: accounts,
		mailer:   mailer,
		security: security,
		logger:   logger,
		clock:    c,
		policy:   policy,
	}
}

// RecordFailure appends a failed attempt and applies the threshold ladder.
// Counting errors fail open; lock write errors are logged and reported as not locked.
func (s *LockoutService) RecordFailure(ctx context.Context, f FailedLogin) models.FailureResult {
	now := s.clock.Now()

	attempt := &models.LoginAttempt{
		Identifier:  f.Identifier,
		Status:      models.AttemptStatusFailed,
		IPAddress:   f.IPAddress,
		UserAgent:   f.UserAgent,
		AttemptedAt: now,
		ExpiresAt:   now.Add(s.policy.AttemptRetention),
	}
	if f.UserID != "" {
		attempt.UserID = &f.UserID
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return models.FailureResult{}
	}

	count := s.FailureCount(ctx, f.Identifier)
	result := models.FailureResult{Attempts: count}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:       pkglogger.EventFailedLogin,
		UserID:     f.UserID,
		Identifier: f.Identifier,
		IPAddress:  f.IPAddress,
		UserAgent:  f.UserAgent,
		Details:    map[string]any{"attempts": count},
	})

	if count >= s.policy.AlertThreshold {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:       pkglogger.EventBruteForceDetected,
			UserID:     f.UserID,
			Identifier: f.Identifier,
			IPAddress:  f.IPAddress,
			Details:    map[string]any{"attempts": count, "window": s.policy.Window.String()},
		})
	}

	if count >= s.policy.LockoutThreshold && f.UserID != "" {
		result.Locked, result.UnlockAt = s.lock(ctx, f, count, now)
	}

	if f.UserID == "" && count >= s.policy.CoolDownThreshold {
		result.CoolDown = true
	}

	return result
}

func (s *LockoutService) lock(ctx context.Context, f FailedLogin, count int, now time.Time) (bool, *time.Time) {
	account, err := s.accounts.GetByID(ctx, f.UserID)
	if err != nil {
		s.logger.Error("failed to load account for lockout", slog.String("user_id", f.UserID), slog.Any("error", err))
		return false, nil
	}

	if account.IsRootAdmin {
		s.alertRootAdmin(ctx, account, f, count)
		return false, nil
	}

	lockout, err := s.lockouts.Upsert(ctx, &models.Lockout{
		SubjectKey: models.LockSubjectKey(f.UserID, f.Identifier, f.Email),
		Attempts:   count,
		LockedAt:   now,
		UnlockAt:   now.Add(s.policy.LockoutDuration),
		IPAddress:  f.IPAddress,
	})
	if err != nil {
		s.logger.Error("failed to write lockout, account remains unlocked",
			slog.String("user_id", f.UserID), slog.Any("error", err))
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:      pkglogger.EventLockWriteFailed,
			UserID:    f.UserID,
			IPAddress: f.IPAddress,
			Details:   map[string]any{"attempts": count, "error": err.Error()},
		})
		return false, nil
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventAccountLocked,
		UserID:    f.UserID,
		IPAddress: f.IPAddress,
		Details:   map[string]any{"attempts": count, "unlock_at": lockout.UnlockAt.UTC().Format(time.RFC3339)},
	})

	if err := s.mailer.SendAccountLocked(ctx, account.Email, lockout.UnlockAt); err != nil {
		s.logger.Warn("failed to send lockout notice", slog.String("user_id", f.UserID), slog.Any("error", err))
	}

	unlockAt := lockout.UnlockAt
	return true, &unlockAt
}

// alertRootAdmin never locks the root admin; it mails a manual-lock link instead
func (s *LockoutService) alertRootAdmin(ctx context.Context, account *models.Account, f FailedLogin, count int) {
	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventSuspiciousLogin,
		UserID:    account.ID,
		IPAddress: f.IPAddress,
		UserAgent: f.UserAgent,
		Details:   map[string]any{"attempts": count, "root_admin": true},
	})

	token, expiresAt, err := s.EnsureLockToken(ctx, account)
	if err != nil {
		s.logger.Error("failed to prepare security lock link", slog.String("user_id", account.ID), slog.Any("error", err))
		return
	}

	link := fmt.Sprintf("%s/auth/security-lock?token=%s", s.policy.AppURLBase, token)
	if err := s.mailer.SendAttackAlert(ctx, account.Email, link, expiresAt); err != nil {
		s.logger.Warn("failed to send attack alert", slog.String("user_id", account.ID), slog.Any("error", err))
	}
}

// EnsureLockToken returns the account's still-valid manual-lock token, or
// mints and stores a new one. Reuse keeps links already emailed working.
func (s *LockoutService) EnsureLockToken(ctx context.Context, account *models.Account) (string, time.Time, error) {
	now := s.clock.Now()
	if account.HasValidLockToken(now) {
		return *account.SecurityLockToken, *account.SecurityLockExpiresAt, nil
	}

	token, err := pkgauth.GenerateSecureToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(s.policy.LockLinkTTL)
	if err := s.accounts.SetSecurityLockToken(ctx, account.ID, token, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("store security lock token: %w", err)
	}

	account.SecurityLockToken = &token
	account.SecurityLockExpiresAt = &expiresAt
	return token, expiresAt, nil
}

// RecordSuccess appends a success and clears the window's failures
func (s *LockoutService) RecordSuccess(ctx context.Context, identifier, userID, ip, userAgent string) {
	now := s.clock.Now()

	attempt := &models.LoginAttempt{
		Identifier:  identifier,
		Status:      models.AttemptStatusSuccess,
		IPAddress:   ip,
		UserAgent:   userAgent,
		AttemptedAt: now,
		ExpiresAt:   now.Add(s.policy.AttemptRetention),
	}
	if userID != "" {
		attempt.UserID = &userID
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login success", slog.Any("error", err))
	}

	if _, err := s.attempts.DeleteFailures(ctx, identifier, now.Add(-s.policy.Window)); err != nil {
		s.logger.Error("failed to reset failure count", slog.Any("error", err))
	}
}

// FailureCount counts failures in the trailing window, 0 on error
func (s *LockoutService) FailureCount(ctx context.Context, identifier string) int {
	count, err := s.attempts.CountFailures(ctx, identifier, s.clock.Now().Add(-s.policy.Window))
	if err != nil {
		s.logger.Error("failed to count login failures", slog.Any("error", err))
		return 0
	}
	return count
}

// CheckCoolDown rejects identifiers that have hit the enumeration cool-down
func (s *LockoutService) CheckCoolDown(ctx context.Context, identifier string) error {
	if s.FailureCount(ctx, identifier) >= s.policy.CoolDownThreshold {
		return models.ErrLoginCoolDown
	}
	return nil
}

// RemainingLock returns the time left on the first active lock among keys.
// Expired records are removed as they are found.
func (s *LockoutService) RemainingLock(ctx context.Context, subjectKeys ...string) time.Duration {
	now := s.clock.Now()
	for _, key := range subjectKeys {
		if key == "" {
			continue
		}
		lockout, err := s.lockouts.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				s.logger.Error("failed to read lockout", slog.Any("error", err))
			}
			continue
		}
		if lockout.IsActive(now) {
			return lockout.Remaining(now)
		}
		if err := s.lockouts.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete expired lockout", slog.Any("error", err))
		}
	}
	return 0
}

// IsLocked reports whether any of keys is under an active timed lock
func (s *LockoutService) IsLocked(ctx context.Context, subjectKeys ...string) bool {
	return s.RemainingLock(ctx, subjectKeys...) > 0
}

// CheckAccount returns a *models.LockedError when account may not log in.
// The admin-controlled flag wins over any timed lock.
func (s *LockoutService) CheckAccount(ctx context.Context, account *models.Account) error {
	if account.IsLocked {
		return &models.LockedError{Manual: true}
	}
	if remaining := s.RemainingLock(ctx, account.ID, account.Email); remaining > 0 {
		return &models.LockedError{Remaining: remaining}
	}
	return nil
}

// Clear removes timed locks and the identifier's recent failures
func (s *LockoutService) Clear(ctx context.Context, identifier string, subjectKeys ...string) error {
	var errs []error
	for _, key := range subjectKeys {
		if key == "" {
			continue
		}
		if err := s.lockouts.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if identifier != "" {
		if _, err := s.attempts.DeleteFailures(ctx, identifier, s.clock.Now().Add(-s.policy.Window)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
