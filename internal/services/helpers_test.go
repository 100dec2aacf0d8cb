package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockLoginAttemptRepository keeps attempts in memory; the Func fields override
type MockLoginAttemptRepository struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt

	RecordFunc        func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresFunc func(ctx context.Context, identifier string, since time.Time) (int, error)
}

func (m *MockLoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *MockLoginAttemptRepository) CountFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	if m.CountFailuresFunc != nil {
		return m.CountFailuresFunc(ctx, identifier, since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.Identifier == identifier && a.Status == models.AttemptStatusFailed && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockLoginAttemptRepository) DeleteFailures(_ context.Context, identifier string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var removed int64
	for _, a := range m.attempts {
		if a.Identifier == identifier && a.Status == models.AttemptStatusFailed && !a.AttemptedAt.Before(since) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}

// MockLockoutRepository mirrors the GREATEST upsert of the SQL store
type MockLockoutRepository struct {
	mu       sync.Mutex
	lockouts map[string]models.Lockout

	UpsertFunc func(ctx context.Context, lockout *models.Lockout) (*models.Lockout, error)
}

func NewMockLockoutRepository() *MockLockoutRepository {
	return &MockLockoutRepository{lockouts: make(map[string]models.Lockout)}
}

func (m *MockLockoutRepository) Upsert(ctx context.Context, lockout *models.Lockout) (*models.Lockout, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, lockout)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *lockout
	if cur, ok := m.lockouts[lockout.SubjectKey]; ok && cur.UnlockAt.After(next.UnlockAt) {
		next.UnlockAt = cur.UnlockAt
	}
	m.lockouts[lockout.SubjectKey] = next
	return &next, nil
}

func (m *MockLockoutRepository) Get(_ context.Context, subjectKey string) (*models.Lockout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lockouts[subjectKey]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &l, nil
}

func (m *MockLockoutRepository) Delete(_ context.Context, subjectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lockouts, subjectKey)
	return nil
}

func (m *MockLockoutRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lockouts)
}

// MockAccountStore is an in-memory account table
type MockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account

	GetByEmailFunc func(ctx context.Context, email string) (*models.Account, error)
}

func NewMockAccountStore(accounts ...*models.Account) *MockAccountStore {
	m := &MockAccountStore{accounts: make(map[string]*models.Account)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *MockAccountStore) get(id string) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountStore) GetByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

func (m *MockAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.Email == email {
			return m.get(id)
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == account.Email || (account.Username != "" && a.Username == account.Username) {
			return nil, models.ErrConflict
		}
	}
	cp := *account
	cp.ID = uuid.NewString()
	m.accounts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockAccountStore) UpdateEmail(_ context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Email = email
	a.EmailVerified = true
	return nil
}

func (m *MockAccountStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (m *MockAccountStore) SetSecurityLockToken(_ context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.SecurityLockToken = &token
	a.SecurityLockExpiresAt = &expiresAt
	return nil
}

func (m *MockAccountStore) ApplySecurityLock(_ context.Context, token string, now time.Time) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.SecurityLockToken != nil && *a.SecurityLockToken == token && a.HasValidLockToken(now) {
			a.IsLocked = true
			a.SecurityLockToken = nil
			a.SecurityLockExpiresAt = nil
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) SetLocked(_ context.Context, id string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.IsLocked = locked
	return nil
}

func (m *MockAccountStore) SetRewardStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.ReferralRewardStatus = status
	return nil
}

func (m *MockAccountStore) ListReferralsSince(_ context.Context, referrerID string, since time.Time) ([]models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Referral
	for _, a := range m.accounts {
		if a.ReferredBy != nil && *a.ReferredBy == referrerID && !a.CreatedAt.Before(since) {
			out = append(out, models.Referral{SubjectID: a.ID, Username: a.Username, Email: a.Email, CreatedAt: a.CreatedAt})
		}
	}
	return out, nil
}

func (m *MockAccountStore) Account(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, _ := m.get(id)
	return a
}

// MockOtpTrackingRepository keys records by (email, ip) like the unique index
type MockOtpTrackingRepository struct {
	mu      sync.Mutex
	records map[string]*models.OtpTracking

	EvaluateFunc func(ctx context.Context, id string) (*models.OtpTracking, error)
	// AfterIncrement runs once an increment is committed, before it returns
	AfterIncrement func()
}

func NewMockOtpTrackingRepository() *MockOtpTrackingRepository {
	return &MockOtpTrackingRepository{records: make(map[string]*models.OtpTracking)}
}

func (m *MockOtpTrackingRepository) GetOrCreate(_ context.Context, email, ip, userAgent string, now time.Time, window time.Duration) (*models.OtpTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := email + "|" + ip
	t, ok := m.records[key]
	if !ok {
		t = &models.OtpTracking{ID: uuid.NewString(), Email: email, IPAddress: ip, CreatedAt: now}
		m.records[key] = t
	}
	if !t.CreatedAt.After(now.Add(-window)) {
		t.OtpRequestCount = 0
		t.FailedOtpAttempts = 0
		t.RequiresCaptcha = false
		t.CreatedAt = now
	}
	t.UserAgent = userAgent
	t.ExpiresAt = t.CreatedAt.Add(window)
	cp := *t
	return &cp, nil
}

func (m *MockOtpTrackingRepository) byID(id string) (*models.OtpTracking, error) {
	for _, t := range m.records {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, models.ErrNotFound
}

// Stored returns a copy of the committed record for (email, ip)
func (m *MockOtpTrackingRepository) Stored(email, ip string) *models.OtpTracking {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[email+"|"+ip]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (m *MockOtpTrackingRepository) Evaluate(ctx context.Context, id string, now time.Time, window time.Duration, threshold int) (*models.OtpTracking, error) {
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.byID(id)
	if err != nil {
		return nil, err
	}
	if !now.Before(cur.CreatedAt.Add(window)) {
		cur.OtpRequestCount = 0
		cur.FailedOtpAttempts = 0
		cur.LastOtpAt = nil
		cur.LastFailedAt = nil
		cur.CaptchaVerifiedAt = nil
		cur.RequiresCaptcha = false
		cur.CreatedAt = now
		cur.ExpiresAt = now.Add(window)
	} else {
		cur.RequiresCaptcha = cur.OtpRequestCount >= threshold || cur.FailedOtpAttempts >= threshold
	}
	cp := *cur
	return &cp, nil
}

func (m *MockOtpTrackingRepository) increment(id string, threshold int, bump func(*models.OtpTracking)) (*models.OtpTracking, error) {
	m.mu.Lock()
	cur, err := m.byID(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	bump(cur)
	cur.RequiresCaptcha = cur.OtpRequestCount >= threshold || cur.FailedOtpAttempts >= threshold
	cp := *cur
	m.mu.Unlock()

	if m.AfterIncrement != nil {
		m.AfterIncrement()
	}
	return &cp, nil
}

func (m *MockOtpTrackingRepository) IncrementRequestCount(_ context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error) {
	return m.increment(id, threshold, func(t *models.OtpTracking) {
		t.OtpRequestCount++
		t.LastOtpAt = &now
	})
}

func (m *MockOtpTrackingRepository) IncrementFailedAttempts(_ context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error) {
	return m.increment(id, threshold, func(t *models.OtpTracking) {
		t.FailedOtpAttempts++
		t.LastFailedAt = &now
	})
}

func (m *MockOtpTrackingRepository) MarkCaptchaVerified(_ context.Context, id string, now time.Time) (*models.OtpTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.byID(id)
	if err != nil {
		return nil, err
	}
	cur.RequiresCaptcha = false
	cur.CaptchaVerifiedAt = &now
	cp := *cur
	return &cp, nil
}

func (m *MockOtpTrackingRepository) Reset(_ context.Context, id string, now time.Time, window time.Duration) (*models.OtpTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.byID(id)
	if err != nil {
		return nil, err
	}
	cur.OtpRequestCount = 0
	cur.FailedOtpAttempts = 0
	cur.RequiresCaptcha = false
	cur.CreatedAt = now
	cur.ExpiresAt = now.Add(window)
	cp := *cur
	return &cp, nil
}

type sentOTP struct {
	Email   string
	Code    string
	Purpose string
}

type sentAlert struct {
	Email string
	Link  string
}

// MockEmailSender records every email
type MockEmailSender struct {
	mu     sync.Mutex
	OTPs   []sentOTP
	Locked []string
	Alerts []sentAlert

	SendOTPFunc func(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
}

func (m *MockEmailSender) SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, email, code, purpose, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OTPs = append(m.OTPs, sentOTP{Email: email, Code: code, Purpose: purpose})
	return nil
}

func (m *MockEmailSender) SendAccountLocked(_ context.Context, email string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locked = append(m.Locked, email)
	return nil
}

func (m *MockEmailSender) SendAttackAlert(_ context.Context, email, lockLink string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, sentAlert{Email: email, Link: lockLink})
	return nil
}

func (m *MockEmailSender) LastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.OTPs) == 0 {
		t.Fatal("no otp email sent")
	}
	return m.OTPs[len(m.OTPs)-1].Code
}

// MockCaptchaVerifier accepts every token unless VerifyFunc says otherwise
type MockCaptchaVerifier struct {
	Calls      int
	VerifyFunc func(ctx context.Context, token, remoteIP string) error
}

func (m *MockCaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	m.Calls++
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token, remoteIP)
	}
	return nil
}

// MockAuditLogWriter collects audit entries
type MockAuditLogWriter struct {
	mu      sync.Mutex
	Entries []*models.AuditLog
}

func (m *MockAuditLogWriter) Create(_ context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, log)
	return log, nil
}

func (m *MockAuditLogWriter) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.EventType)
	}
	return out
}

// MockReferralScreener records submissions
type MockReferralScreener struct {
	mu        sync.Mutex
	Submitted [][2]string
}

func (m *MockReferralScreener) Submit(referrerID, subjectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, [2]string{referrerID, subjectID})
	return true
}

// testEnv wires every service over in-memory fakes and a fake clock
type testEnv struct {
	clock     *clock.Fake
	attempts  *MockLoginAttemptRepository
	lockouts  *MockLockoutRepository
	accounts  *MockAccountStore
	tracking  *MockOtpTrackingRepository
	mailer    *MockEmailSender
	captcha   *MockCaptchaVerifier
	audit     *MockAuditLogWriter
	screener  *MockReferralScreener
	hasher    *pkgauth.PasswordHasher
	tokens    *auth.TokenManager
	security  *pkglogger.SecurityLogger
	logger    *slog.Logger
	lockout   *LockoutService
	gate      *CaptchaGate
	otp       *OTPService
	authSvc   *AuthService
}

func testLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Window:            15 * time.Minute,
		AlertThreshold:    3,
		LockoutThreshold:  5,
		CoolDownThreshold: 10,
		LockoutDuration:   30 * time.Minute,
		AttemptRetention:  30 * 24 * time.Hour,
		LockLinkTTL:       time.Hour,
		AppURLBase:        "https://estateguard.test",
	}
}

func newTestEnv(t *testing.T, accounts ...*models.Account) *testEnv {
	t.Helper()

	logger := newTestLogger()
	env := &testEnv{
		clock:    clock.NewFake(testStart),
		attempts: &MockLoginAttemptRepository{},
		lockouts: NewMockLockoutRepository(),
		accounts: NewMockAccountStore(accounts...),
		tracking: NewMockOtpTrackingRepository(),
		mailer:   &MockEmailSender{},
		captcha:  &MockCaptchaVerifier{},
		audit:    &MockAuditLogWriter{},
		screener: &MockReferralScreener{},
		hasher:   pkgauth.NewPasswordHasher(bcrypt.MinCost),
		security: pkglogger.NewSecurityLogger(logger),
		logger:   logger,
	}
	env.tokens = auth.NewTokenManager("test-secret-32-characters-long!!", 15*time.Minute, 15*time.Minute, env.clock)

	env.lockout = NewLockoutService(env.attempts, env.lockouts, env.accounts, env.mailer,
		env.security, logger, env.clock, testLockoutPolicy())
	env.gate = NewCaptchaGate(env.tracking, logger, env.clock, 10*time.Minute, 3)
	env.otp = NewOTPService(OTPServiceDeps{
		Challenges: store.NewMemory[models.OtpChallenge](env.clock),
		Accounts:   env.accounts,
		Gate:       env.gate,
		Captcha:    env.captcha,
		Mailer:     env.mailer,
		Lockout:    env.lockout,
		Tokens:     env.tokens,
		Hasher:     env.hasher,
		Screener:   env.screener,
		Security:   env.security,
		Logger:     logger,
		Clock:      env.clock,
	}, OTPPolicy{TTL: 10 * time.Minute, MaxAttempts: 3})
	env.authSvc = NewAuthService(AuthServiceDeps{
		Accounts:     env.accounts,
		Lockout:      env.lockout,
		Tokens:       env.tokens,
		Hasher:       env.hasher,
		SpentTickets: store.NewMemory[bool](env.clock),
		Audit:        env.audit,
		Security:     env.security,
		Logger:       logger,
		Clock:        env.clock,
	})
	return env
}

// NewTestAccount builds an account whose password is "correct-horse-9"
func NewTestAccount(t *testing.T, id, email string) *models.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-9"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &models.Account{
		ID:            id,
		Email:         email,
		Username:      strings.Split(email, "@")[0],
		PasswordHash:  string(hash),
		Role:          models.RoleUser,
		EmailVerified: true,
		CreatedAt:     testStart,
	}
}

func NewTestRootAdmin(t *testing.T, id, email string) *models.Account {
	a := NewTestAccount(t, id, email)
	a.Role = models.RoleAdmin
	a.IsRootAdmin = true
	return a
}

func failN(ctx context.Context, s *LockoutService, n int, f FailedLogin) models.FailureResult {
	var last models.FailureResult
	for i := 0; i < n; i++ {
		last = s.RecordFailure(ctx, f)
	}
	return last
}

func errFake(op string) error {
	return fmt.Errorf("%s: connection refused", op)
}
