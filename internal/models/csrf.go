package models

import "time"

// CsrfToken binds a one-time token to the requester that fetched it
type CsrfToken struct {
	Token       string    `json:"token"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RateWindow is a fixed-window counter
type RateWindow struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Count       int       `json:"count"`
}
