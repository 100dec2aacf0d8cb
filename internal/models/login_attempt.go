package models

import "time"

// Attempt outcomes
const (
	AttemptStatusSuccess = "success"
	AttemptStatusFailed  = "failed"
)

// LoginAttempt is an immutable row of the attempt log
type LoginAttempt struct {
	ID          string    `db:"id"`
	Identifier  string    `db:"identifier"`
	UserID      *string   `db:"user_id"`
	Status      string    `db:"status"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
	AttemptedAt time.Time `db:"attempted_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// FailureResult is what the brute-force engine reports after a failed login
type FailureResult struct {
	Attempts int
	Locked   bool
	UnlockAt *time.Time
	CoolDown bool
}
