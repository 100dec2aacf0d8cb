package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/estateguard/internal/models"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// CaptchaRequiredResponse is a soft rejection: the client should render a
// CAPTCHA and retry with its token
type CaptchaRequiredResponse struct {
	Success         bool   `json:"success"`
	RequiresCaptcha bool   `json:"requiresCaptcha"`
	Error           string `json:"error"`
	Message         string `json:"message"`
}

// writeServiceError maps service errors onto status codes. Anything it does
// not recognise is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var locked *models.LockedError
	var pwErr *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.RemainingMinutes())
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, 0)
	case errors.As(err, &pwErr):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid_password",
			"Password does not meet requirements", strings.Join(pwErr.Errors, "; "))
	case errors.Is(err, models.ErrLoginCoolDown):
		pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.")
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
	case errors.Is(err, models.ErrCaptchaRequired):
		pkghttp.WriteJSON(w, http.StatusBadRequest, CaptchaRequiredResponse{
			RequiresCaptcha: true,
			Error:           "captcha_required",
			Message:         "Please complete the CAPTCHA to continue",
		})
	case errors.Is(err, models.ErrCaptchaFailed):
		pkghttp.WriteError(w, http.StatusForbidden, "captcha_failed", "CAPTCHA verification failed")
	case errors.Is(err, models.ErrCSRFInvalid):
		pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token expired or invalid")
	case errors.Is(err, models.ErrOTPNotFound):
		pkghttp.WriteError(w, http.StatusNotFound, "otp_not_found", "No pending code. Please request a new one.")
	case errors.Is(err, models.ErrOTPExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, "otp_expired", "Code expired. Please request a new one.")
	case errors.Is(err, models.ErrOTPInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, "otp_invalid", "Incorrect code")
	case errors.Is(err, models.ErrOTPAttemptsExceeded):
		pkghttp.WriteError(w, http.StatusBadRequest, "otp_attempts_exceeded", "Too many incorrect codes. Please request a new one.")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Already exists")
	case errors.Is(err, models.ErrEmailDelivery), errors.Is(err, models.ErrDependencyUnavailable):
		logger.WarnContext(r.Context(), "dependency failure", "path", r.URL.Path, "error", err)
		pkghttp.WriteError(w, http.StatusInternalServerError, "service_unavailable", "Something went wrong. Please try again.")
	default:
		logger.ErrorContext(r.Context(), "unhandled service error", "path", r.URL.Path, "error", err)
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
