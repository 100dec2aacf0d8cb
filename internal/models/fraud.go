package models

import "time"

// Referral is one account created through a referrer's code
type Referral struct {
	SubjectID string
	Username  string
	Email     string
	CreatedAt time.Time
}

// FraudSignal is the logged evidence behind a flagged referral
type FraudSignal struct {
	ReferrerID string
	SubjectID  string
	Rule       string
	Reason     string
	Score      float64
	Breakdown  map[string]float64
	Evidence   []string
}
