package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/services"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// AuthServiceInterface is the password and lock surface of services.AuthService
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	ResetPassword(ctx context.Context, ticket, newPassword, ip string) error
	ApplySecurityLock(ctx context.Context, token, ip string) (*models.Account, error)
}

// CSRFIssuer hands out one-time CSRF tokens
type CSRFIssuer interface {
	Issue(ctx context.Context, fingerprint string) (*models.CsrfToken, error)
	TTL() time.Duration
}

// AuthHandler serves login, CSRF tokens, password reset and the security lock link
type AuthHandler struct {
	service  AuthServiceInterface
	csrf     CSRFIssuer
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, csrf CSRFIssuer, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		csrf:     csrf,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type AccountResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

func accountResponse(a *models.Account) *AccountResponse {
	if a == nil {
		return nil
	}
	return &AccountResponse{
		ID:            a.ID,
		Email:         a.Email,
		Username:      a.Username,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
	}
}

type LoginResponse struct {
	Success     bool             `json:"success"`
	AccessToken string           `json:"accessToken"`
	Account     *AccountResponse `json:"account"`
}

type CSRFTokenResponse struct {
	CSRFToken string    `json:"csrfToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ResetPasswordRequest struct {
	Ticket      string `json:"ticket" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login handles password sign-in
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:     true,
		AccessToken: result.AccessToken,
		Account:     accountResponse(result.Account),
	})
}

// CSRFToken issues a token bound to the caller and sets the matching cookie
// @Router /auth/csrf-token [get]
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Issue(r.Context(), pkghttp.RequestFingerprint(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	auth.SetCSRFTokenCookie(w, token.Token, h.csrf.TTL(), h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{
		CSRFToken: token.Token,
		ExpiresAt: token.ExpiresAt,
	})
}

// ResetPassword completes forgot-password with the ticket from OTP verification
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Ticket, req.NewPassword, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Password updated"})
}

// SecurityLock consumes the emailed lock link and locks the account until an admin unlocks it
// @Router /auth/security-lock [get]
func (h *AuthHandler) SecurityLock(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteBadRequest(w, "token is required")
		return
	}

	if _, err := h.service.ApplySecurityLock(r.Context(), token, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Account locked. An administrator must unlock it before anyone can sign in.",
	})
}
