package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Severity tiers for security events
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Security event types
const (
	EventAccountLocked        = "account_locked"
	EventBruteForceDetected   = "brute_force_detected"
	EventSuspiciousLogin      = "suspicious_login"
	EventFailedLogin          = "failed_login"
	EventPasswordResetAttempt = "password_reset_attempt"

	EventLockWriteFailed   = "lock_write_failed"
	EventManualLock        = "manual_security_lock"
	EventAccountUnlocked   = "account_unlocked"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventCaptchaRequired   = "captcha_required"
	EventCaptchaFailed     = "captcha_failed"
	EventCSRFRejected      = "csrf_rejected"
	EventOTPFailed         = "otp_failed"
	EventReferralFraud     = "referral_fraud"
)

// SeverityOf maps an event type to its tier; unknown types are LOW
func SeverityOf(eventType string) Severity {
	switch eventType {
	case EventAccountLocked, EventBruteForceDetected, EventSuspiciousLogin:
		return SeverityHigh
	case EventFailedLogin, EventPasswordResetAttempt:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SecurityEvent is one entry in the security event stream
type SecurityEvent struct {
	Type       string
	UserID     string
	Identifier string
	IPAddress  string
	UserAgent  string
	Details    map[string]any
}

// SecurityLogger writes security events with their severity tier
type SecurityLogger struct {
	logger *slog.Logger
}

func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// Log records event. Identifiers that look like email addresses are masked.
func (sl *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	severity := SeverityOf(event.Type)

	attrs := []slog.Attr{
		slog.String("security_event", event.Type),
		slog.String("severity", string(severity)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Identifier != "" {
		id := event.Identifier
		if strings.Contains(id, "@") {
			id = SanitizedEmail(id)
		}
		attrs = append(attrs, slog.String("identifier", id))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	for key, val := range event.Details {
		attrs = append(attrs, slog.Any(key, val))
	}

	sl.logger.LogAttrs(ctx, levelFor(severity), "security", attrs...)
}

func levelFor(s Severity) slog.Level {
	switch s {
	case SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
