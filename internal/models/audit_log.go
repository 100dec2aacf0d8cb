package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for audit logging
const (
	AuditEventTypeAccountLocked   = "account_locked"
	AuditEventTypeAccountUnlocked = "account_unlocked"
	AuditEventTypeManualLock      = "manual_security_lock"
	AuditEventTypeReferralFraud   = "referral_fraud"
	AuditEventTypePasswordReset   = "password_reset"
)

// Resource types
const (
	AuditResourceTypeAccount  = "account"
	AuditResourceTypeReferral = "referral"
)

// Actions
const (
	AuditActionUpdate = "update"
	AuditActionBlock  = "block"
)

type AuditLog struct {
	ID            uuid.UUID     `db:"id"`
	EventType     string        `db:"event_type"`
	ActorID       *string       `db:"actor_id"`
	TargetID      *string       `db:"target_id"`
	ResourceType  *string       `db:"resource_type"`
	ResourceID    *string       `db:"resource_id"`
	Action        string        `db:"action"`
	Success       bool          `db:"success"`
	FailureReason *string       `db:"failure_reason"`
	IPAddress     *string       `db:"ip_address"`
	Metadata      AuditMetadata `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}

// NewFraudAuditLog builds the audit entry written when a referral is flagged
func NewFraudAuditLog(signal *FraudSignal) *AuditLog {
	resourceType := AuditResourceTypeReferral
	reason := signal.Reason
	referrer := signal.ReferrerID
	subject := signal.SubjectID

	metadata := AuditMetadata{
		"rule":  signal.Rule,
		"score": signal.Score,
	}
	if len(signal.Breakdown) > 0 {
		breakdown := make(map[string]interface{}, len(signal.Breakdown))
		for k, v := range signal.Breakdown {
			breakdown[k] = v
		}
		metadata["breakdown"] = breakdown
	}
	if len(signal.Evidence) > 0 {
		metadata["evidence"] = signal.Evidence
	}

	return &AuditLog{
		ID:            uuid.New(),
		EventType:     AuditEventTypeReferralFraud,
		ActorID:       &referrer,
		TargetID:      &subject,
		ResourceType:  &resourceType,
		ResourceID:    &subject,
		Action:        AuditActionBlock,
		Success:       false,
		FailureReason: &reason,
		Metadata:      metadata,
	}
}
