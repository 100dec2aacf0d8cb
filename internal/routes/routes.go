package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/config"
	"github.com/BradenHooton/estateguard/internal/handlers"
	"github.com/BradenHooton/estateguard/internal/middleware"
	"github.com/BradenHooton/estateguard/internal/models"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth   *handlers.AuthHandler
	OTP    *handlers.OTPHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// Guards carries what the request guards need
type Guards struct {
	Limiter             middleware.RateLimiter
	CSRF                middleware.CSRFValidator
	Security            *pkglogger.SecurityLogger
	IPConfig            *pkghttp.IPConfig
	IPRequestsPerMinute int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	g Guards,
	tokenManager *auth.TokenManager,
	accounts auth.AccountFetcher,
) {
	byIP := middleware.ClientIPKey(g.IPConfig)
	csrf := middleware.CSRFGuard(g.CSRF, g.IPConfig, g.Security)

	// the fixed-window limit runs before CSRF so floods never touch the token store
	limited := func(action string) middleware.Pipeline {
		return middleware.NewPipeline(middleware.RateLimitGuard(g.Limiter, action, byIP), csrf)
	}
	csrfOnly := middleware.NewPipeline(csrf)

	router.Get("/health", h.Health.Health)

	// Public auth routes, throttled per IP
	router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.ThrottleByIP(g.IPRequestsPerMinute, g.IPConfig))

		r.Get("/csrf-token", h.Auth.CSRFToken)
		r.Get("/security-lock", h.Auth.SecurityLock)

		r.With(limited(config.ActionSignIn).Handler).Post("/login", h.Auth.Login)
		r.With(limited(config.ActionOTPSend).Handler).Post("/otp/send", h.OTP.SendOTP)
		r.With(limited(config.ActionOTPVerify).Handler).Post("/otp/verify", h.OTP.VerifyOTP)
		r.With(limited(config.ActionSignUp).Handler).Post("/signup/otp", h.OTP.SignupOTP)
		r.With(csrfOnly.Handler).Post("/password/reset", h.Auth.ResetPassword)
	})

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(csrfOnly.Handler)

		r.Post("/account/email/otp", h.OTP.SendEmailChangeOTP)
		r.Post("/account/email/verify", h.OTP.VerifyEmailChange)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(accounts, models.RoleAdmin))
			r.Post("/admin/accounts/{id}/unlock", h.Admin.UnlockAccount)
			r.Get("/admin/audit-logs", h.Admin.ListAuditLogs)
		})
	})
}
