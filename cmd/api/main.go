package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/background"
	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/config"
	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/fraud"
	"github.com/BradenHooton/estateguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/estateguard/internal/middleware"
	"github.com/BradenHooton/estateguard/internal/repositories"
	"github.com/BradenHooton/estateguard/internal/routes"
	"github.com/BradenHooton/estateguard/internal/services"
	pkgauth "github.com/BradenHooton/estateguard/pkg/auth"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Volatile stores: redis when configured so every instance shares counters
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("using redis for volatile stores", slog.String("addr", cfg.Redis.Addr))
	}

	sysClock := clock.System{}
	stores := newVolatileStores(redisClient, sysClock)

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	otpTrackingRepo := repositories.NewOtpTrackingRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	securityLogger := pkglogger.NewSecurityLogger(logger)
	hasher := pkgauth.NewPasswordHasher(pkgauth.DefaultBcryptCost)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.ResetTicketExpiry, sysClock)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	mailer, err := newEmailSender(ctx, cfg.Email, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	policy, closePolicy, err := newFraudPolicy(ctx, cfg.Fraud, logger)
	if err != nil {
		logger.Error("failed to load fraud policy", slog.Any("error", err))
		os.Exit(1)
	}
	defer closePolicy()

	// Initialize services
	lockoutService := services.NewLockoutService(
		loginAttemptRepo,
		lockoutRepo,
		accountRepo,
		mailer,
		securityLogger,
		logger,
		sysClock,
		services.LockoutPolicy{
			Window:            cfg.Security.LockoutWindow,
			AlertThreshold:    cfg.Security.AlertThreshold,
			LockoutThreshold:  cfg.Security.LockoutThreshold,
			CoolDownThreshold: cfg.Security.CoolDownThreshold,
			LockoutDuration:   cfg.Security.LockoutDuration,
			AttemptRetention:  cfg.Security.AttemptRetention,
			LockLinkTTL:       cfg.Security.SecurityLockLinkTTL,
			AppURLBase:        cfg.Email.AppURLBase,
		},
	)
	rateLimitService := services.NewRateLimitService(stores.rateWindows, cfg.Security.RateLimits, securityLogger, logger, sysClock)
	captchaGate := services.NewCaptchaGate(otpTrackingRepo, logger, sysClock, cfg.Security.OTPTrackingWindow, cfg.Security.CaptchaThreshold)
	captchaVerifier := services.NewHTTPCaptchaVerifier(cfg.Captcha.VerifyURL, cfg.Captcha.Secret, cfg.Captcha.Timeout, cfg.Captcha.MinScore, logger)
	fraudService := services.NewFraudService(accountRepo, auditRepo, policy, securityLogger, logger, sysClock)
	fraudScreener := background.NewFraudScreener(fraudService, cfg.Fraud.QueueSize, 10*time.Second, logger)
	csrfGuard := auth.NewCSRFGuard(stores.csrfTokens, cfg.Security.CSRFTokenTTL, sysClock)

	otpService := services.NewOTPService(services.OTPServiceDeps{
		Challenges: stores.otpChallenges,
		Accounts:   accountRepo,
		Gate:       captchaGate,
		Captcha:    captchaVerifier,
		Mailer:     mailer,
		Lockout:    lockoutService,
		Tokens:     tokenManager,
		Hasher:     hasher,
		Screener:   fraudScreener,
		Security:   securityLogger,
		Logger:     logger,
		Clock:      sysClock,
	}, services.OTPPolicy{
		TTL:         cfg.Security.OTPTTL,
		MaxAttempts: cfg.Security.OTPMaxAttempts,
	})

	authService := services.NewAuthService(services.AuthServiceDeps{
		Accounts:     accountRepo,
		Lockout:      lockoutService,
		Tokens:       tokenManager,
		Hasher:       hasher,
		SpentTickets: stores.spentTickets,
		Audit:        auditRepo,
		Timing:       timingDelay,
		Security:     securityLogger,
		Logger:       logger,
		Clock:        sysClock,
	})

	// Bootstrap the root admin if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureRootAdmin(bootstrapCtx, accountRepo, hasher, os.Getenv("ROOT_ADMIN_EMAIL"), os.Getenv("ROOT_ADMIN_PASSWORD"), logger); err != nil {
		logger.Error("failed to ensure root admin", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}

	healthChecks := map[string]handlers.HealthCheck{"database": db.HealthCheck}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	appHandlers := routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, csrfGuard, cookieConfig, ipConfig, logger),
		OTP:    handlers.NewOTPHandler(otpService, rateLimitService, ipConfig, logger),
		Admin:  handlers.NewAdminHandler(authService, auditRepo, ipConfig, logger),
		Health: handlers.NewHealthHandler(healthChecks, 2*time.Second, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, appHandlers, routes.Guards{
		Limiter:             rateLimitService,
		CSRF:                csrfGuard,
		Security:            securityLogger,
		IPConfig:            ipConfig,
		IPRequestsPerMinute: cfg.Server.IPRequestsPerMinute,
	}, tokenManager, accountRepo)

	// Background work
	cleanupManager := background.NewCleanupManager(logger, 30*time.Second,
		background.SweepTask("csrf_tokens", cfg.Security.CSRFSweepInterval, csrfGuard.Sweep),
		background.SweepTask("otp_challenges", cfg.Security.OTPSweepInterval, otpService.Sweep),
		background.SweepTask("rate_windows", cfg.Security.RateSweepInterval, rateLimitService.Sweep),
		background.SweepTask("spent_reset_tickets", cfg.Security.RetentionSweepInterval, stores.spentTickets.Sweep),
		background.ExpiryTask("login_attempts", cfg.Security.RetentionSweepInterval, sysClock, loginAttemptRepo.DeleteExpired),
		background.ExpiryTask("otp_tracking", cfg.Security.OTPSweepInterval, sysClock, otpTrackingRepo.DeleteExpired),
		background.ExpiryTask("lockouts", cfg.Security.RetentionSweepInterval, sysClock, lockoutRepo.DeleteExpired),
		background.RetentionTask("audit_logs", cfg.Security.RetentionSweepInterval, cfg.Security.AuditRetention, sysClock, auditRepo.Cleanup),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	cleanupManager.Start(bgCtx)
	fraudScreener.Start(bgCtx)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// stop accepting referrals only after in-flight signups have finished
	fraudScreener.Stop()
	cleanupManager.Stop()
	bgCancel()

	logger.Info("server stopped gracefully")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newEmailSender(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (services.EmailSender, error) {
	if cfg.Provider == "log" {
		logger.Warn("email provider is log; messages are written to the log only")
		return services.NewLogEmailSender(logger), nil
	}
	sender, err := services.NewSESEmailSender(ctx, cfg.AWSRegion, cfg.FromAddress, cfg.SendTimeout, logger)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// newFraudPolicy returns the built-in policy unless a TOML file is configured.
// The returned func releases the file watcher.
func newFraudPolicy(ctx context.Context, cfg config.FraudConfig, logger *slog.Logger) (fraud.Provider, func(), error) {
	if cfg.PolicyPath == "" {
		return fraud.Static(fraud.DefaultPolicy()), func() {}, nil
	}

	if !cfg.WatchPolicy {
		policy, err := fraud.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, nil, err
		}
		return fraud.Static(policy), func() {}, nil
	}

	watcher, err := fraud.NewWatcher(cfg.PolicyPath, logger)
	if err != nil {
		return nil, nil, err
	}
	go watcher.Run(ctx)
	logger.Info("watching fraud policy", slog.String("path", cfg.PolicyPath))
	return watcher, func() { _ = watcher.Close() }, nil
}
