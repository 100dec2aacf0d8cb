package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/fraud"
	"github.com/BradenHooton/estateguard/internal/models"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// ReferralStore reads referral history and records reward outcomes
type ReferralStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListReferralsSince(ctx context.Context, referrerID string, since time.Time) ([]models.Referral, error)
	SetRewardStatus(ctx context.Context, id, status string) error
}

// AuditLogWriter appends audit entries
type AuditLogWriter interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

// FraudService feeds stored referral history to the scoring engine and
// records flagged referrals
type FraudService struct {
	accounts ReferralStore
	audit    AuditLogWriter
	policy   fraud.Provider
	security *pkglogger.SecurityLogger
	logger   *slog.Logger
	clock    clock.Clock
}

func NewFraudService(accounts ReferralStore, audit AuditLogWriter, policy fraud.Provider, security *pkglogger.SecurityLogger, logger *slog.Logger, c clock.Clock) *FraudService {
	if c == nil {
		c = clock.System{}
	}
	return &FraudService{accounts: accounts, audit: audit, policy: policy, security: security, logger: logger, clock: c}
}

// Evaluate scores subjectID as a referral of referrerID
func (s *FraudService) Evaluate(ctx context.Context, referrerID, subjectID string) (fraud.Decision, error) {
	policy := s.policy.Policy()
	now := s.clock.Now()

	recent, err := s.accounts.ListReferralsSince(ctx, referrerID, now.Add(-policy.Window))
	if err != nil {
		return fraud.Decision{}, fmt.Errorf("list referrals: %w", err)
	}

	subject, err := s.subject(ctx, subjectID, recent)
	if err != nil {
		return fraud.Decision{}, err
	}

	decision := fraud.Evaluate(fraud.Input{
		ReferrerID: referrerID,
		Subject:    subject,
		Recent:     recent,
		Now:        now,
	}, policy)

	if decision.IsFraud {
		s.record(ctx, decision.Signal(referrerID, subjectID))
	}
	return decision, nil
}

func (s *FraudService) subject(ctx context.Context, subjectID string, recent []models.Referral) (models.Referral, error) {
	for _, r := range recent {
		if r.SubjectID == subjectID {
			return r, nil
		}
	}
	account, err := s.accounts.GetByID(ctx, subjectID)
	if err != nil {
		return models.Referral{}, fmt.Errorf("load referred account: %w", err)
	}
	return models.Referral{
		SubjectID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	}, nil
}

// record writes the audit entry and the alert; failures are logged only
func (s *FraudService) record(ctx context.Context, signal *models.FraudSignal) {
	if _, err := s.audit.Create(ctx, models.NewFraudAuditLog(signal)); err != nil {
		s.logger.Error("failed to write fraud audit entry",
			slog.String("referrer_id", signal.ReferrerID),
			slog.String("subject_id", signal.SubjectID),
			slog.Any("error", err))
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:   pkglogger.EventReferralFraud,
		UserID: signal.SubjectID,
		Details: map[string]any{
			"referrer_id": signal.ReferrerID,
			"rule":        signal.Rule,
			"reason":      signal.Reason,
			"score":       signal.Score,
		},
	})
}

// Screen evaluates the referral and settles its reward status
func (s *FraudService) Screen(ctx context.Context, referrerID, subjectID string) (fraud.Decision, error) {
	decision, err := s.Evaluate(ctx, referrerID, subjectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return decision, err
		}
		return decision, fmt.Errorf("screen referral: %w", err)
	}

	status := models.RewardStatusGranted
	if decision.IsFraud {
		status = models.RewardStatusWithheld
	}
	if err := s.accounts.SetRewardStatus(ctx, subjectID, status); err != nil {
		return decision, fmt.Errorf("set reward status: %w", err)
	}
	return decision, nil
}
