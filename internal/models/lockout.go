package models

import "time"

// Lockout holds the "locked until" record for one subject.
// SubjectKey is the user id, else the identifier, else the email.
type Lockout struct {
	SubjectKey string    `db:"subject_key"`
	Attempts   int       `db:"attempts"`
	LockedAt   time.Time `db:"locked_at"`
	UnlockAt   time.Time `db:"unlock_at"`
	IPAddress  string    `db:"ip_address"`
}

// IsActive reports whether the lock still holds at now
func (l *Lockout) IsActive(now time.Time) bool {
	return now.Before(l.UnlockAt)
}

// Remaining returns the time left on the lock, never negative
func (l *Lockout) Remaining(now time.Time) time.Duration {
	if !l.IsActive(now) {
		return 0
	}
	return l.UnlockAt.Sub(now)
}

// LockSubjectKey picks the first non-empty candidate
func LockSubjectKey(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
