package models

import (
	"time"
)

// Account roles
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Referral reward outcomes recorded after fraud screening
const (
	RewardStatusNone     = ""
	RewardStatusPending  = "pending"
	RewardStatusGranted  = "granted"
	RewardStatusWithheld = "withheld"
)

type Account struct {
	ID            string
	Email         string
	Username      string
	PasswordHash  string
	Role          string
	EmailVerified bool

	// IsRootAdmin marks the irrevocable super-admin that brute force never locks out
	IsRootAdmin bool
	// IsLocked is the admin-controlled override; only an explicit unlock clears it
	IsLocked bool

	SecurityLockToken     *string
	SecurityLockExpiresAt *time.Time

	ReferredBy           *string
	ReferralRewardStatus string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasValidLockToken reports whether the emailed manual-lock token can still be used at now
func (a *Account) HasValidLockToken(now time.Time) bool {
	return a.SecurityLockToken != nil && a.SecurityLockExpiresAt != nil && now.Before(*a.SecurityLockExpiresAt)
}
