package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// OTPAccountStore is the account store slice the OTP flows need
type OTPAccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateEmail(ctx context.Context, id, email string) error
}

// ReferralScreener queues a new referred account for fraud screening
type ReferralScreener interface {
	Submit(referrerID, subjectID string) bool
}

// OTPPolicy is the challenge lifetime and guess budget
type OTPPolicy struct {
	TTL         time.Duration
	MaxAttempts int
}

// OTPRequest asks for a code to be mailed
type OTPRequest struct {
	Email        string
	Purpose      string
	IPAddress    string
	UserAgent    string
	CaptchaToken string
	// SubjectID is the signed-in account for profile-email
	SubjectID string
}

// OTPSendResult reports whether the next request from this scope needs a CAPTCHA
type OTPSendResult struct {
	ExpiresAt       time.Time
	RequiresCaptcha bool
}

// OTPVerification submits a code
type OTPVerification struct {
	Email        string
	Purpose      string
	Code         string
	IPAddress    string
	UserAgent    string
	CaptchaToken string
	SubjectID    string

	// signup only
	Username   string
	Password   string
	ReferrerID string
}

// OTPVerifyResult carries the purpose-specific outcome
type OTPVerifyResult struct {
	Purpose     string
	Account     *models.Account
	AccessToken string
	ResetTicket string
}

// OTPService issues and verifies one-time codes behind the CAPTCHA gate
type OTPService struct {
	challenges store.Store[models.OtpChallenge]
	accounts   OTPAccountStore
	gate       *CaptchaGate
	captcha    CaptchaVerifier
	mailer     EmailSender
	lockout    *LockoutService
	tokens     *auth.TokenManager
	hasher     *pkgauth.PasswordHasher
	screener   ReferralScreener
	security   *pkglogger.SecurityLogger
	logger     *slog.Logger
	clock      clock.Clock
	policy     OTPPolicy
}

// OTPServiceDeps groups the collaborators of OTPService
type OTPServiceDeps struct {
	Challenges store.Store[models.OtpChallenge]
	Accounts   OTPAccountStore
	Gate       *CaptchaGate
	Captcha    CaptchaVerifier
	Mailer     EmailSender
	Lockout    *LockoutService
	Tokens     *auth.TokenManager
	Hasher     *pkgauth.PasswordHasher
	Screener   ReferralScreener
	Security   *pkglogger.SecurityLogger
	Logger     *slog.Logger
	Clock      clock.Clock
}

func NewOTPService(deps OTPServiceDeps, policy OTPPolicy) *OTPService {
	c := deps.Clock
	if c == nil {
		c = clock.System{}
	}
	return &OTPService{
		challenges: deps.Challenges,
		accounts:   deps.Accounts,
		gate:       deps.Gate,
		captcha:    deps.Captcha,
		mailer:     deps.Mailer,
		lockout:    deps.Lockout,
		tokens:     deps.Tokens,
		hasher:     deps.Hasher,
		screener:   deps.Screener,
		security:   deps.Security,
		logger:     deps.Logger,
		clock:      c,
		policy:     policy,
	}
}

func challengeKey(purpose, email string) string {
	return fmt.Sprintf("otp:%s:%s", purpose, email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SendOTP mails a fresh code, replacing any unexpired one for (email, purpose).
// It returns ErrCaptchaRequired when the scope must solve a CAPTCHA first.
func (s *OTPService) SendOTP(ctx context.Context, req OTPRequest) (*OTPSendResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || !models.ValidOTPPurpose(req.Purpose) {
		return nil, models.ErrBadRequest
	}

	tracking := s.gate.GetOrCreateTracking(ctx, email, req.IPAddress, req.UserAgent)
	if err := s.passCaptcha(ctx, tracking, email, req.CaptchaToken, req.IPAddress); err != nil {
		return nil, err
	}

	subjectID, err := s.checkPurpose(ctx, req.Purpose, email, req.SubjectID)
	if err != nil {
		return nil, err
	}

	code, err := generateCode(s.clock.Now())
	if err != nil {
		s.logger.Error("failed to generate otp", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	expiresAt := s.clock.Now().Add(s.policy.TTL)
	key := challengeKey(req.Purpose, email)
	challenge := models.OtpChallenge{
		Email:     email,
		Code:      code,
		Purpose:   req.Purpose,
		SubjectID: subjectID,
		ExpiresAt: expiresAt,
	}
	if err := s.challenges.Set(ctx, key, challenge, s.policy.TTL); err != nil {
		s.logger.Error("failed to store otp", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.mailer.SendOTP(ctx, email, code, req.Purpose, expiresAt); err != nil {
		_ = s.challenges.Delete(ctx, key)
		return nil, fmt.Errorf("send otp: %w", models.ErrEmailDelivery)
	}

	s.gate.IncrementOtpRequest(ctx, tracking)

	result := &OTPSendResult{ExpiresAt: expiresAt}
	if tracking != nil {
		result.RequiresCaptcha = tracking.RequiresCaptcha
	}
	return result, nil
}

// checkPurpose enforces the account preconditions of each purpose. Login and
// forgot-password answer ErrNotFound for unknown emails.
func (s *OTPService) checkPurpose(ctx context.Context, purpose, email, subjectID string) (string, error) {
	switch purpose {
	case models.OTPPurposeSignup:
		if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
			return "", models.ErrConflict
		} else if !errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInternalServer
		}
		return "", nil

	case models.OTPPurposeLogin, models.OTPPurposeForgotPassword:
		account, err := s.accounts.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return "", models.ErrNotFound
			}
			return "", models.ErrInternalServer
		}
		if purpose == models.OTPPurposeLogin {
			if err := s.lockout.CheckAccount(ctx, account); err != nil {
				return "", err
			}
		}
		return account.ID, nil

	case models.OTPPurposeProfileEmail:
		if subjectID == "" {
			return "", models.ErrUnauthorized
		}
		if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
			return "", models.ErrConflict
		} else if !errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInternalServer
		}
		return subjectID, nil
	}
	return "", models.ErrBadRequest
}

// passCaptcha enforces the gate: no token means ErrCaptchaRequired, a bad
// token means ErrCaptchaFailed
func (s *OTPService) passCaptcha(ctx context.Context, tracking *models.OtpTracking, email, token, ip string) error {
	if !s.gate.CheckCaptchaRequirement(ctx, tracking) {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:       pkglogger.EventCaptchaRequired,
			Identifier: email,
			IPAddress:  ip,
		})
		return models.ErrCaptchaRequired
	}
	if err := s.captcha.Verify(ctx, token, ip); err != nil {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:       pkglogger.EventCaptchaFailed,
			Identifier: email,
			IPAddress:  ip,
			Details:    map[string]any{"error": err.Error()},
		})
		return models.ErrCaptchaFailed
	}
	s.gate.VerifyCaptcha(ctx, tracking)
	return nil
}

// VerifyOTP consumes a matching code and completes its purpose
func (s *OTPService) VerifyOTP(ctx context.Context, req OTPVerification) (*OTPVerifyResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Code == "" || !models.ValidOTPPurpose(req.Purpose) {
		return nil, models.ErrBadRequest
	}

	tracking := s.gate.GetOrCreateTracking(ctx, email, req.IPAddress, req.UserAgent)
	if err := s.passCaptcha(ctx, tracking, email, req.CaptchaToken, req.IPAddress); err != nil {
		return nil, err
	}

	challenge, err := s.consume(ctx, req.Purpose, email, req.Code)
	if err != nil {
		if errors.Is(err, models.ErrOTPInvalid) || errors.Is(err, models.ErrOTPAttemptsExceeded) {
			s.gate.IncrementFailedAttempt(ctx, tracking)
			s.security.Log(ctx, pkglogger.SecurityEvent{
				Type:       pkglogger.EventOTPFailed,
				Identifier: email,
				IPAddress:  req.IPAddress,
				UserAgent:  req.UserAgent,
				Details:    map[string]any{"purpose": req.Purpose, "error": err.Error()},
			})
		}
		return nil, err
	}

	switch req.Purpose {
	case models.OTPPurposeSignup:
		return s.completeSignup(ctx, email, req)
	case models.OTPPurposeLogin:
		return s.completeLogin(ctx, challenge, req)
	case models.OTPPurposeForgotPassword:
		return s.completeForgotPassword(ctx, challenge)
	default:
		return s.completeProfileEmail(ctx, challenge, req, tracking)
	}
}

// consume checks the code under the store's per-key lock. A match deletes the
// challenge; the last allowed miss deletes it too.
func (s *OTPService) consume(ctx context.Context, purpose, email, code string) (*models.OtpChallenge, error) {
	now := s.clock.Now()
	var (
		matched models.OtpChallenge
		outcome error
	)

	err := s.challenges.Update(ctx, challengeKey(purpose, email),
		func(cur models.OtpChallenge, found bool) store.Mutation[models.OtpChallenge] {
			matched = models.OtpChallenge{}
			switch {
			case !found:
				outcome = models.ErrOTPNotFound
				return store.Remove[models.OtpChallenge]()
			case cur.IsExpired(now):
				outcome = models.ErrOTPExpired
				return store.Remove[models.OtpChallenge]()
			case subtle.ConstantTimeCompare([]byte(cur.Code), []byte(code)) == 1:
				matched = cur
				outcome = nil
				return store.Remove[models.OtpChallenge]()
			}

			cur.Attempts++
			if cur.Attempts >= s.policy.MaxAttempts {
				outcome = models.ErrOTPAttemptsExceeded
				return store.Remove[models.OtpChallenge]()
			}
			outcome = models.ErrOTPInvalid
			return store.Put(cur, cur.ExpiresAt.Sub(now))
		})
	if err != nil {
		s.logger.Error("failed to read otp", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if outcome != nil {
		return nil, outcome
	}
	return &matched, nil
}

func (s *OTPService) completeSignup(ctx context.Context, email string, req OTPVerification) (*OTPVerifyResult, error) {
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	account := &models.Account{
		Email:         email,
		Username:      strings.TrimSpace(req.Username),
		PasswordHash:  hash,
		Role:          models.RoleUser,
		EmailVerified: true,
	}

	if req.ReferrerID != "" {
		if _, err := s.accounts.GetByID(ctx, req.ReferrerID); err != nil {
			s.logger.Info("signup with unknown referral code", slog.String("referrer_id", req.ReferrerID))
		} else {
			referrer := req.ReferrerID
			account.ReferredBy = &referrer
			account.ReferralRewardStatus = models.RewardStatusPending
		}
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if created.ReferredBy != nil && s.screener != nil {
		if !s.screener.Submit(*created.ReferredBy, created.ID) {
			s.logger.Warn("fraud screening queue full, reward left pending",
				slog.String("referrer_id", *created.ReferredBy),
				slog.String("user_id", created.ID))
		}
	}

	s.logger.Info("account created", slog.String("user_id", created.ID))
	return &OTPVerifyResult{Purpose: models.OTPPurposeSignup, Account: created}, nil
}

func (s *OTPService) completeLogin(ctx context.Context, challenge *models.OtpChallenge, req OTPVerification) (*OTPVerifyResult, error) {
	account, err := s.accounts.GetByID(ctx, challenge.SubjectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}
	if err := s.lockout.CheckAccount(ctx, account); err != nil {
		return nil, err
	}

	token, err := s.tokens.GenerateAccessToken(account)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	s.lockout.RecordSuccess(ctx, account.Email, account.ID, req.IPAddress, req.UserAgent)

	return &OTPVerifyResult{Purpose: models.OTPPurposeLogin, Account: account, AccessToken: token}, nil
}

func (s *OTPService) completeForgotPassword(ctx context.Context, challenge *models.OtpChallenge) (*OTPVerifyResult, error) {
	ticket, err := s.tokens.GenerateResetTicket(challenge.SubjectID, challenge.Email)
	if err != nil {
		s.logger.Error("failed to generate reset ticket", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return &OTPVerifyResult{
		Purpose:     models.OTPPurposeForgotPassword,
		Account:     &models.Account{ID: challenge.SubjectID, Email: challenge.Email},
		ResetTicket: ticket,
	}, nil
}

func (s *OTPService) completeProfileEmail(ctx context.Context, challenge *models.OtpChallenge, req OTPVerification, tracking *models.OtpTracking) (*OTPVerifyResult, error) {
	if req.SubjectID == "" || req.SubjectID != challenge.SubjectID {
		return nil, models.ErrUnauthorized
	}
	if err := s.accounts.UpdateEmail(ctx, challenge.SubjectID, challenge.Email); err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to update email", slog.String("user_id", challenge.SubjectID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.gate.ResetTracking(ctx, tracking)
	return &OTPVerifyResult{
		Purpose: models.OTPPurposeProfileEmail,
		Account: &models.Account{ID: challenge.SubjectID, Email: challenge.Email},
	}, nil
}

// Sweep drops expired challenges
func (s *OTPService) Sweep(ctx context.Context) (int, error) {
	return s.challenges.Sweep(ctx)
}

// generateCode derives a 6-digit HOTP from a throwaway random secret
func generateCode(now time.Time) (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return hotp.GenerateCodeCustom(secret, uint64(now.UnixNano()), hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
