package middleware

import (
	"context"
	"net/http"

	"github.com/BradenHooton/estateguard/internal/auth"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// RateLimiter is the fixed-window limiter the guards consult
type RateLimiter interface {
	Allow(ctx context.Context, action, identifier string) bool
}

// CSRFValidator checks and consumes a CSRF token
type CSRFValidator interface {
	Validate(ctx context.Context, token, cookieToken, fingerprint string) error
}

// KeyFunc picks the rate limit identifier for a request
type KeyFunc func(r *http.Request) string

// ClientIPKey keys by client IP, honouring trusted proxies
func ClientIPKey(cfg *pkghttp.IPConfig) KeyFunc {
	return func(r *http.Request) string {
		return pkghttp.ExtractClientIP(r, cfg)
	}
}

// RateLimitGuard denies with 429 once key has used up action's window
func RateLimitGuard(limiter RateLimiter, action string, key KeyFunc) Guard {
	return func(r *http.Request) Decision {
		if !limiter.Allow(r.Context(), action, key(r)) {
			return Deny(http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
		}
		return Allow()
	}
}

// CSRFGuard requires a one-time token on state-changing requests. The token
// comes from the X-CSRF-Token header and must match the csrf cookie.
func CSRFGuard(validator CSRFValidator, ipCfg *pkghttp.IPConfig, security *pkglogger.SecurityLogger) Guard {
	return func(r *http.Request) Decision {
		if !isStateChangingMethod(r.Method) {
			return Allow()
		}

		token := r.Header.Get(auth.CSRFHeaderName)
		cookie := auth.GetCSRFTokenCookie(r)
		ip := pkghttp.ExtractClientIP(r, ipCfg)
		fingerprint := pkghttp.Fingerprint(ip, r.UserAgent())

		if err := validator.Validate(r.Context(), token, cookie, fingerprint); err != nil {
			event := pkglogger.SecurityEvent{
				Type:      pkglogger.EventCSRFRejected,
				IPAddress: ip,
				UserAgent: r.UserAgent(),
				Details:   map[string]any{"path": r.URL.Path, "method": r.Method},
			}
			if claims := auth.GetUserFromContext(r); claims != nil {
				event.UserID = claims.UserID
			}
			security.Log(r.Context(), event)
			return Deny(http.StatusForbidden, "csrf_invalid", "CSRF token expired or invalid")
		}
		return Allow()
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
