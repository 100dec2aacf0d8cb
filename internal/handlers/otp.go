package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/config"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/services"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// OTPServiceInterface issues and verifies one-time codes
type OTPServiceInterface interface {
	SendOTP(ctx context.Context, req services.OTPRequest) (*services.OTPSendResult, error)
	VerifyOTP(ctx context.Context, req services.OTPVerification) (*services.OTPVerifyResult, error)
}

// RateLimiter is the fixed-window limiter
type RateLimiter interface {
	Allow(ctx context.Context, action, identifier string) bool
}

// OTPHandler serves the OTP flows for every purpose
type OTPHandler struct {
	service  OTPServiceInterface
	limiter  RateLimiter
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewOTPHandler(service OTPServiceInterface, limiter RateLimiter, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{
		service:  service,
		limiter:  limiter,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

type SendOTPRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Purpose      string `json:"purpose" validate:"required,oneof=signup login forgot-password"`
	CaptchaToken string `json:"captchaToken" validate:"max=4096"`
}

type SignupOTPRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	CaptchaToken string `json:"captchaToken" validate:"max=4096"`
}

type EmailChangeOTPRequest struct {
	NewEmail     string `json:"newEmail" validate:"required,email,max=254"`
	CaptchaToken string `json:"captchaToken" validate:"max=4096"`
}

type VerifyOTPRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Purpose      string `json:"purpose" validate:"required,oneof=signup login forgot-password"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
	CaptchaToken string `json:"captchaToken" validate:"max=4096"`

	// signup only
	Username     string `json:"username" validate:"omitempty,min=3,max=32,alphanum"`
	Password     string `json:"password" validate:"max=128"`
	ReferralCode string `json:"referralCode" validate:"omitempty,uuid"`
}

type EmailChangeVerifyRequest struct {
	NewEmail     string `json:"newEmail" validate:"required,email,max=254"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
	CaptchaToken string `json:"captchaToken" validate:"max=4096"`
}

type SendOTPResponse struct {
	Success         bool      `json:"success"`
	Message         string    `json:"message"`
	RequiresCaptcha bool      `json:"requiresCaptcha"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type VerifyOTPResponse struct {
	Success     bool             `json:"success"`
	Purpose     string           `json:"purpose"`
	Account     *AccountResponse `json:"account,omitempty"`
	AccessToken string           `json:"accessToken,omitempty"`
	ResetTicket string           `json:"resetTicket,omitempty"`
	UserID      string           `json:"userId,omitempty"`
}

// SendOTP mails a code for signup, login or forgot-password
// @Router /auth/otp/send [post]
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.send(w, r, req.Email, req.Purpose, req.CaptchaToken, "")
}

// SignupOTP mails a signup code
// @Router /auth/signup/otp [post]
func (h *OTPHandler) SignupOTP(w http.ResponseWriter, r *http.Request) {
	var req SignupOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.send(w, r, req.Email, models.OTPPurposeSignup, req.CaptchaToken, "")
}

// SendEmailChangeOTP mails a code to the new address of a signed-in account
// @Router /account/email/otp [post]
func (h *OTPHandler) SendEmailChangeOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req EmailChangeOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.send(w, r, req.NewEmail, models.OTPPurposeProfileEmail, req.CaptchaToken, claims.UserID)
}

func (h *OTPHandler) send(w http.ResponseWriter, r *http.Request, email, purpose, captchaToken, subjectID string) {
	if !h.allowCaptcha(r, email, captchaToken) {
		pkghttp.WriteTooManyRequests(w, "Too many CAPTCHA attempts, please try again later")
		return
	}

	result, err := h.service.SendOTP(r.Context(), services.OTPRequest{
		Email:        email,
		Purpose:      purpose,
		IPAddress:    pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:    r.UserAgent(),
		CaptchaToken: captchaToken,
		SubjectID:    subjectID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SendOTPResponse{
		Success:         true,
		Message:         "Verification code sent",
		RequiresCaptcha: result.RequiresCaptcha,
		ExpiresAt:       result.ExpiresAt,
	})
}

// VerifyOTP checks a code and completes its purpose
// @Router /auth/otp/verify [post]
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// reject bad signup credentials before the code is spent
	if req.Purpose == models.OTPPurposeSignup {
		if strings.TrimSpace(req.Username) == "" {
			pkghttp.WriteBadRequest(w, "validation failed: username: this field is required")
			return
		}
		if err := pkgauth.ValidatePassword(req.Password); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	h.verify(w, r, services.OTPVerification{
		Email:        req.Email,
		Purpose:      req.Purpose,
		Code:         req.Code,
		CaptchaToken: req.CaptchaToken,
		Username:     req.Username,
		Password:     req.Password,
		ReferrerID:   req.ReferralCode,
	})
}

// VerifyEmailChange confirms the code sent to a new address and swaps it in
// @Router /account/email/verify [post]
func (h *OTPHandler) VerifyEmailChange(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req EmailChangeVerifyRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.verify(w, r, services.OTPVerification{
		Email:        req.NewEmail,
		Purpose:      models.OTPPurposeProfileEmail,
		Code:         req.Code,
		CaptchaToken: req.CaptchaToken,
		SubjectID:    claims.UserID,
	})
}

func (h *OTPHandler) verify(w http.ResponseWriter, r *http.Request, v services.OTPVerification) {
	if !h.allowCaptcha(r, v.Email, v.CaptchaToken) {
		pkghttp.WriteTooManyRequests(w, "Too many CAPTCHA attempts, please try again later")
		return
	}

	v.IPAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	v.UserAgent = r.UserAgent()

	result, err := h.service.VerifyOTP(r.Context(), v)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := VerifyOTPResponse{
		Success:     true,
		Purpose:     result.Purpose,
		AccessToken: result.AccessToken,
		ResetTicket: result.ResetTicket,
	}
	if result.Account != nil {
		resp.UserID = result.Account.ID
	}
	// forgot-password only proves control of the mailbox
	if result.Purpose != models.OTPPurposeForgotPassword {
		resp.Account = accountResponse(result.Account)
	}

	status := http.StatusOK
	if result.Purpose == models.OTPPurposeSignup {
		status = http.StatusCreated
	}
	pkghttp.WriteJSON(w, status, resp)
}

// allowCaptcha applies the per-email CAPTCHA verification limit when a token is attached
func (h *OTPHandler) allowCaptcha(r *http.Request, email, captchaToken string) bool {
	if captchaToken == "" || h.limiter == nil {
		return true
	}
	return h.limiter.Allow(r.Context(), config.ActionCaptchaVerify, strings.ToLower(strings.TrimSpace(email)))
}
