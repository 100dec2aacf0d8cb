package models

import "time"

// OTP purposes
const (
	OTPPurposeSignup         = "signup"
	OTPPurposeLogin          = "login"
	OTPPurposeForgotPassword = "forgot-password"
	OTPPurposeProfileEmail   = "profile-email"
)

// ValidOTPPurpose reports whether p is a known purpose
func ValidOTPPurpose(p string) bool {
	switch p {
	case OTPPurposeSignup, OTPPurposeLogin, OTPPurposeForgotPassword, OTPPurposeProfileEmail:
		return true
	default:
		return false
	}
}

// OtpTracking counts OTP requests and failures for one (email, ip) scope
type OtpTracking struct {
	ID                string     `db:"id"`
	Email             string     `db:"email"`
	IPAddress         string     `db:"ip_address"`
	UserAgent         string     `db:"user_agent"`
	OtpRequestCount   int        `db:"otp_request_count"`
	FailedOtpAttempts int        `db:"failed_otp_attempts"`
	LastOtpAt         *time.Time `db:"last_otp_at"`
	LastFailedAt      *time.Time `db:"last_failed_at"`
	RequiresCaptcha   bool       `db:"requires_captcha"`
	CaptchaVerifiedAt *time.Time `db:"captcha_verified_at"`
	CreatedAt         time.Time  `db:"created_at"`
	ExpiresAt         time.Time  `db:"expires_at"`
}

// OtpChallenge is the volatile one-time code for (email, purpose)
type OtpChallenge struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Purpose   string    `json:"purpose"`
	SubjectID string    `json:"subject_id,omitempty"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the challenge has lapsed at now
func (c *OtpChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
