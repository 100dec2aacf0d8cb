package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// AccountStore is the account store slice used by login, reset and locking
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ApplySecurityLock(ctx context.Context, token string, now time.Time) (*models.Account, error)
	SetLocked(ctx context.Context, id string, locked bool) error
}

// AuthService handles login, password reset and account locking
type AuthService struct {
	accounts     AccountStore
	lockout      *LockoutService
	tokens       *auth.TokenManager
	hasher       *pkgauth.PasswordHasher
	spentTickets store.Store[bool]
	audit        AuditLogWriter
	timing       *auth.TimingDelay
	security     *pkglogger.SecurityLogger
	logger       *slog.Logger
	clock        clock.Clock
}

// AuthServiceDeps groups the collaborators of AuthService
type AuthServiceDeps struct {
	Accounts     AccountStore
	Lockout      *LockoutService
	Tokens       *auth.TokenManager
	Hasher       *pkgauth.PasswordHasher
	SpentTickets store.Store[bool]
	Audit        AuditLogWriter
	Timing       *auth.TimingDelay
	Security     *pkglogger.SecurityLogger
	Logger       *slog.Logger
	Clock        clock.Clock
}

func NewAuthService(deps AuthServiceDeps) *AuthService {
	c := deps.Clock
	if c == nil {
		c = clock.System{}
	}
	return &AuthService{
		accounts:     deps.Accounts,
		lockout:      deps.Lockout,
		tokens:       deps.Tokens,
		hasher:       deps.Hasher,
		spentTickets: deps.SpentTickets,
		audit:        deps.Audit,
		timing:       deps.Timing,
		security:     deps.Security,
		logger:       deps.Logger,
		clock:        c,
	}
}

// LoginRequest is a password sign-in
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is a successful sign-in
type LoginResult struct {
	AccessToken string
	Account     *models.Account
}

// Login authenticates with email and password. Unknown emails and wrong
// passwords both return ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := time.Now()
	result, err := s.login(ctx, req)
	s.timing.WaitFrom(ctx, start, err == nil)
	return result, err
}

func (s *AuthService) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := normalizeEmail(req.Email)
	if identifier == "" {
		return nil, models.ErrUnauthorized
	}

	if err := s.lockout.CheckCoolDown(ctx, identifier); err != nil {
		s.logger.Info("login rejected: identifier cooling down", slog.String("email", pkglogger.SanitizedEmail(identifier)))
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, identifier)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get account by email", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.hasher.CompareDummy(req.Password)
		result := s.lockout.RecordFailure(ctx, FailedLogin{
			Identifier: identifier,
			IPAddress:  req.IPAddress,
			UserAgent:  req.UserAgent,
		})
		if result.CoolDown {
			return nil, models.ErrLoginCoolDown
		}
		return nil, models.ErrUnauthorized
	}

	if err := s.lockout.CheckAccount(ctx, account); err != nil {
		s.logger.Info("login blocked: account locked", slog.String("user_id", account.ID))
		return nil, err
	}

	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		result := s.lockout.RecordFailure(ctx, FailedLogin{
			Identifier: identifier,
			UserID:     account.ID,
			Email:      account.Email,
			IPAddress:  req.IPAddress,
			UserAgent:  req.UserAgent,
		})
		if result.Locked && result.UnlockAt != nil {
			return nil, &models.LockedError{Remaining: result.UnlockAt.Sub(s.clock.Now())}
		}
		return nil, models.ErrUnauthorized
	}

	token, err := s.tokens.GenerateAccessToken(account)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.lockout.RecordSuccess(ctx, identifier, account.ID, req.IPAddress, req.UserAgent)
	s.logger.Info("user logged in", slog.String("user_id", account.ID))

	return &LoginResult{AccessToken: token, Account: account}, nil
}

// ResetPassword completes forgot-password with the ticket issued on OTP
// verification. Each ticket works once.
func (s *AuthService) ResetPassword(ctx context.Context, ticket, newPassword, ip string) error {
	claims, err := s.tokens.ValidateToken(ticket, models.TokenTypePasswordReset)
	if err != nil {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	spent := false
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = max(claims.ExpiresAt.Sub(s.clock.Now()), time.Second)
	}
	err = s.spentTickets.Update(ctx, claims.ID, func(_ bool, found bool) store.Mutation[bool] {
		spent = found
		return store.Put(true, ttl)
	})
	if err != nil {
		s.logger.Error("failed to mark reset ticket spent", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if spent {
		s.logger.Warn("reset ticket reused", slog.String("user_id", claims.UserID))
		return models.ErrUnauthorized
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.accounts.UpdatePassword(ctx, claims.UserID, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update password", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.lockout.Clear(ctx, claims.Email, claims.UserID, claims.Email); err != nil {
		s.logger.Warn("failed to clear lockout after reset", slog.String("user_id", claims.UserID), slog.Any("error", err))
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventPasswordResetAttempt,
		UserID:    claims.UserID,
		IPAddress: ip,
		Details:   map[string]any{"success": true},
	})
	s.writeAudit(ctx, models.AuditEventTypePasswordReset, claims.UserID, claims.UserID, ip, nil)
	return nil
}

// ApplySecurityLock consumes an emailed lock link and sets the manual lock.
// Unknown, spent and expired tokens all return ErrNotFound.
func (s *AuthService) ApplySecurityLock(ctx context.Context, token, ip string) (*models.Account, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	account, err := s.accounts.ApplySecurityLock(ctx, token, s.clock.Now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to apply security lock", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventManualLock,
		UserID:    account.ID,
		IPAddress: ip,
	})
	s.writeAudit(ctx, models.AuditEventTypeManualLock, account.ID, account.ID, ip, nil)
	return account, nil
}

// Unlock lifts both the timed lock and the manual flag
func (s *AuthService) Unlock(ctx context.Context, actorID, accountID, ip string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	if account.IsLocked {
		if err := s.accounts.SetLocked(ctx, account.ID, false); err != nil {
			s.logger.Error("failed to clear manual lock", slog.String("user_id", account.ID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}
	if err := s.lockout.Clear(ctx, account.Email, account.ID, account.Email); err != nil {
		s.logger.Error("failed to clear lockout", slog.String("user_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventAccountUnlocked,
		UserID:    account.ID,
		IPAddress: ip,
		Details:   map[string]any{"actor_id": actorID},
	})
	s.writeAudit(ctx, models.AuditEventTypeAccountUnlocked, actorID, account.ID, ip, nil)
	return nil
}

func (s *AuthService) writeAudit(ctx context.Context, eventType, actorID, targetID, ip string, metadata models.AuditMetadata) {
	if s.audit == nil {
		return
	}
	resourceType := models.AuditResourceTypeAccount
	entry := &models.AuditLog{
		EventType:    eventType,
		ActorID:      &actorID,
		TargetID:     &targetID,
		ResourceType: &resourceType,
		ResourceID:   &targetID,
		Action:       models.AuditActionUpdate,
		Success:      true,
		Metadata:     metadata,
	}
	if ip != "" {
		entry.IPAddress = &ip
	}
	if _, err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry", slog.String("event_type", eventType), slog.Any("error", err))
	}
}
