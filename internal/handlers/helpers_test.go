package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/services"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// NewTestLogger discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	req.RemoteAddr = "198.51.100.7:40000"
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
	}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

// AssertJSONResponse checks the status and decodes the body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the status and machine-readable error code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc             func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	ResetPasswordFunc     func(ctx context.Context, ticket, newPassword, ip string) error
	ApplySecurityLockFunc func(ctx context.Context, token, ip string) (*models.Account, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, ticket, newPassword, ip string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, ticket, newPassword, ip)
}

func (m *MockAuthService) ApplySecurityLock(ctx context.Context, token, ip string) (*models.Account, error) {
	if m.ApplySecurityLockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ApplySecurityLockFunc(ctx, token, ip)
}

// MockCSRFIssuer implements CSRFIssuer for testing
type MockCSRFIssuer struct {
	IssueFunc func(ctx context.Context, fingerprint string) (*models.CsrfToken, error)
}

func (m *MockCSRFIssuer) Issue(ctx context.Context, fingerprint string) (*models.CsrfToken, error) {
	if m.IssueFunc == nil {
		return &models.CsrfToken{Token: "csrf-abc", Fingerprint: fingerprint, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return m.IssueFunc(ctx, fingerprint)
}

func (m *MockCSRFIssuer) TTL() time.Duration {
	return time.Hour
}

// MockOTPService implements OTPServiceInterface for testing
type MockOTPService struct {
	SendOTPFunc   func(ctx context.Context, req services.OTPRequest) (*services.OTPSendResult, error)
	VerifyOTPFunc func(ctx context.Context, req services.OTPVerification) (*services.OTPVerifyResult, error)

	Sent     []services.OTPRequest
	Verified []services.OTPVerification
}

func (m *MockOTPService) SendOTP(ctx context.Context, req services.OTPRequest) (*services.OTPSendResult, error) {
	m.Sent = append(m.Sent, req)
	if m.SendOTPFunc == nil {
		return &services.OTPSendResult{ExpiresAt: time.Now().Add(10 * time.Minute)}, nil
	}
	return m.SendOTPFunc(ctx, req)
}

func (m *MockOTPService) VerifyOTP(ctx context.Context, req services.OTPVerification) (*services.OTPVerifyResult, error) {
	m.Verified = append(m.Verified, req)
	if m.VerifyOTPFunc == nil {
		return nil, models.ErrOTPInvalid
	}
	return m.VerifyOTPFunc(ctx, req)
}

// MockRateLimiter allows the first Max calls per action:identifier
type MockRateLimiter struct {
	Max   int
	Calls map[string]int
}

func (m *MockRateLimiter) Allow(ctx context.Context, action, identifier string) bool {
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	key := action + ":" + identifier
	m.Calls[key]++
	return m.Calls[key] <= m.Max
}

// MockUnlockService implements UnlockService for testing
type MockUnlockService struct {
	UnlockFunc func(ctx context.Context, actorID, accountID, ip string) error
}

func (m *MockUnlockService) Unlock(ctx context.Context, actorID, accountID, ip string) error {
	if m.UnlockFunc == nil {
		return nil
	}
	return m.UnlockFunc(ctx, actorID, accountID, ip)
}

// MockAuditLogReader implements AuditLogReader for testing
type MockAuditLogReader struct {
	ListFunc func(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

func (m *MockAuditLogReader) ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, eventType, limit)
}
