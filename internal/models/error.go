package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Gating errors
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrLoginCoolDown     = errors.New("too many failed attempts, cool down before retrying")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCaptchaRequired   = errors.New("captcha verification required")
	ErrCaptchaFailed     = errors.New("captcha verification failed")
	ErrCSRFInvalid       = errors.New("csrf token expired or invalid")

	// OTP challenge errors
	ErrOTPNotFound         = errors.New("no active otp for this email")
	ErrOTPExpired          = errors.New("otp has expired")
	ErrOTPInvalid          = errors.New("otp is incorrect")
	ErrOTPAttemptsExceeded = errors.New("too many incorrect otp attempts")

	// Dependency errors
	ErrEmailDelivery         = errors.New("email could not be delivered")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// LockedError reports a timed or manual lock with the time left before it lifts.
// Remaining is zero for admin-controlled locks that never lift on their own.
type LockedError struct {
	Remaining time.Duration
	Manual    bool
}

func (e *LockedError) Error() string {
	if e.Manual {
		return "account is locked by an administrator"
	}
	return fmt.Sprintf("account is locked for another %d minute(s)", e.RemainingMinutes())
}

// Unwrap lets errors.Is match ErrAccountLocked
func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// RemainingMinutes rounds the remaining lock time up to the nearest minute
func (e *LockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Minutes()))
}
