package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAccountFetcher struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Account, error)
}

func (m *mockAccountFetcher) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return m.GetByIDFunc(ctx, id)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, time.Minute, time.Minute, nil)
	access, err := tm.GenerateAccessToken(&models.Account{ID: "u-1", Role: models.RoleUser})
	require.NoError(t, err)
	ticket, err := tm.GenerateResetTicket("u-1", "a@b.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"reset ticket is not an access token", "Bearer " + ticket, http.StatusUnauthorized},
		{"valid", "Bearer " + access, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			auth.AuthMiddleware(tm)(okHandler()).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		account *models.Account
		err     error
		want    int
	}{
		{"admin passes", &models.Account{ID: "u-1", Role: models.RoleAdmin}, nil, http.StatusNoContent},
		{"user forbidden", &models.Account{ID: "u-1", Role: models.RoleUser}, nil, http.StatusForbidden},
		{"locked admin rejected", &models.Account{ID: "u-1", Role: models.RoleAdmin, IsLocked: true}, nil, http.StatusLocked},
		{"missing account", nil, models.ErrNotFound, http.StatusUnauthorized},
		{"store failure", nil, assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &mockAccountFetcher{GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
				return tt.account, tt.err
			}}

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			ctx := context.WithValue(req.Context(), auth.UserContextKey, &models.TokenClaims{UserID: "u-1"})
			rec := httptest.NewRecorder()

			auth.RequireRole(fetcher, models.RoleAdmin)(okHandler()).ServeHTTP(rec, req.WithContext(ctx))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireRole_WithoutClaims(t *testing.T) {
	rec := httptest.NewRecorder()
	auth.RequireRole(&mockAccountFetcher{}, models.RoleAdmin)(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCSRFCookieRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	auth.SetCSRFTokenCookie(rec, "tok", time.Hour, auth.CookieConfig{Secure: true, SameSite: "strict"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, "tok", auth.GetCSRFTokenCookie(req))
	assert.Empty(t, auth.GetCSRFTokenCookie(httptest.NewRequest(http.MethodPost, "/", nil)))
}
