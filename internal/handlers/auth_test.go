package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/handlers"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/services"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

func newAuthHandler(svc *handlers.MockAuthService) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, &handlers.MockCSRFIssuer{}, auth.CookieConfig{SameSite: "strict"}, &pkghttp.IPConfig{}, handlers.NewTestLogger())
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginRequest
	svc := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			got = req
			return &services.LoginResult{
				AccessToken: "access_token_123",
				Account:     &models.Account{ID: "u-1", Email: "user@example.com", Role: models.RoleUser},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newAuthHandler(svc).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "correct-horse-9",
	}))

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "u-1", resp.Account.ID)
	assert.Equal(t, "198.51.100.7", got.IPAddress)
	assert.Equal(t, "handler-test", got.UserAgent)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"wrong credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"timed lock", &models.LockedError{Remaining: 29*time.Minute + time.Second}, http.StatusLocked, "account_locked"},
		{"manual lock", &models.LockedError{Manual: true}, http.StatusLocked, "account_locked"},
		{"cool down", models.ErrLoginCoolDown, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newAuthHandler(svc).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "wrong",
			}))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestLogin_LockedMessageCarriesMinutes(t *testing.T) {
	svc := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, &models.LockedError{Remaining: 29*time.Minute + time.Second}
		},
	}

	w := httptest.NewRecorder()
	newAuthHandler(svc).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	}))

	var resp pkghttp.ErrorResponse
	handlers.AssertJSONResponse(t, w, http.StatusLocked, &resp)
	assert.Contains(t, resp.Message, "30 minute")
}

func TestLogin_InvalidBody(t *testing.T) {
	called := false
	svc := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			called = true
			return nil, nil
		},
	}

	tests := []struct {
		name string
		body any
	}{
		{"missing password", map[string]string{"email": "user@example.com"}},
		{"bad email", map[string]string{"email": "not-an-email", "password": "x"}},
		{"unknown field", map[string]string{"email": "user@example.com", "password": "x", "admin": "true"}},
		{"empty body", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newAuthHandler(svc).Login(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login", tt.body))
			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
	assert.False(t, called)
}

func TestCSRFToken_SetsCookieAndBody(t *testing.T) {
	var fingerprint string
	issuer := &handlers.MockCSRFIssuer{
		IssueFunc: func(ctx context.Context, fp string) (*models.CsrfToken, error) {
			fingerprint = fp
			return &models.CsrfToken{Token: "tok-1", Fingerprint: fp, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := handlers.NewAuthHandler(&handlers.MockAuthService{}, issuer, auth.CookieConfig{}, &pkghttp.IPConfig{}, handlers.NewTestLogger())

	w := httptest.NewRecorder()
	h.CSRFToken(w, handlers.NewTestRequest(t, http.MethodGet, "/auth/csrf-token", nil))

	var resp handlers.CSRFTokenResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "tok-1", resp.CSRFToken)
	assert.Equal(t, pkghttp.Fingerprint("198.51.100.7", "handler-test"), fingerprint)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CSRFCookieName, cookies[0].Name)
	assert.Equal(t, "tok-1", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestResetPassword(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"success", nil, http.StatusOK},
		{"spent ticket", models.ErrUnauthorized, http.StatusUnauthorized},
		{"weak password", &pkgauth.PasswordValidationError{Errors: []string{"must contain a digit"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockAuthService{
				ResetPasswordFunc: func(ctx context.Context, ticket, newPassword, ip string) error {
					assert.Equal(t, "ticket-1", ticket)
					return tt.err
				},
			}

			w := httptest.NewRecorder()
			newAuthHandler(svc).ResetPassword(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/password/reset", handlers.ResetPasswordRequest{
				Ticket:      "ticket-1",
				NewPassword: "N3w-Password!",
			}))

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSecurityLock(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		svc := &handlers.MockAuthService{
			ApplySecurityLockFunc: func(ctx context.Context, token, ip string) (*models.Account, error) {
				assert.Equal(t, "lock-token", token)
				return &models.Account{ID: "root", IsLocked: true}, nil
			},
		}
		w := httptest.NewRecorder()
		newAuthHandler(svc).SecurityLock(w, httptest.NewRequest(http.MethodGet, "/auth/security-lock?token=lock-token", nil))

		var resp handlers.MessageResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.True(t, resp.Success)
	})

	t.Run("expired or used token", func(t *testing.T) {
		w := httptest.NewRecorder()
		newAuthHandler(&handlers.MockAuthService{}).SecurityLock(w, httptest.NewRequest(http.MethodGet, "/auth/security-lock?token=stale", nil))
		handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		newAuthHandler(&handlers.MockAuthService{}).SecurityLock(w, httptest.NewRequest(http.MethodGet, "/auth/security-lock", nil))
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})
}
