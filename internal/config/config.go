package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Captcha  CaptchaConfig
	Email    EmailConfig
	Redis    RedisConfig
	Fraud    FraudConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// IPRequestsPerMinute is the coarse httprate throttle in front of /auth
	IPRequestsPerMinute int
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	ResetTicketExpiry time.Duration
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    string
	TimingDelayBaseMs int
	TimingDelayRandMs int
}

// SecurityConfig holds the brute-force, OTP, CSRF and rate limit policy
type SecurityConfig struct {
	LockoutWindow       time.Duration
	AlertThreshold      int
	LockoutThreshold    int
	CoolDownThreshold   int
	LockoutDuration     time.Duration
	AttemptRetention    time.Duration
	SecurityLockLinkTTL time.Duration

	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPTrackingWindow time.Duration
	CaptchaThreshold  int
	OTPSweepInterval  time.Duration

	CSRFTokenTTL      time.Duration
	CSRFSweepInterval time.Duration

	RateSweepInterval      time.Duration
	RetentionSweepInterval time.Duration
	AuditRetention         time.Duration
	RateLimits             map[string]RateLimit
}

// RateLimit is a fixed-window allowance for one action class
type RateLimit struct {
	Max    int
	Window time.Duration
}

type CaptchaConfig struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
	MinScore  float64
}

type EmailConfig struct {
	// Provider is "ses" or "log"; log only writes messages to the logger
	Provider    string
	AWSRegion   string
	FromAddress string
	AppURLBase  string
	SendTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether volatile stores should be shared through redis
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type FraudConfig struct {
	PolicyPath  string
	WatchPolicy bool
	QueueSize   int
}

// Rate limit action classes
const (
	ActionSignIn        = "signin"
	ActionSignUp        = "signup"
	ActionOTPSend       = "otp_send"
	ActionOTPVerify     = "otp_verify"
	ActionCaptchaVerify = "captcha_verify"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: loadDatabaseConfig(),
		Server: ServerConfig{
			Port:                getEnv("PORT", "8080"),
			Env:                 env,
			LogLevel:            getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:      parseAllowedOrigins(env),
			TrustedProxies:      splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:         getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:        getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:         getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			IPRequestsPerMinute: getEnvAsInt("IP_REQUESTS_PER_MINUTE", 60),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			ResetTicketExpiry: getEnvAsDuration("RESET_TICKET_EXPIRY", 15*time.Minute),
			CookieDomain:      getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:      getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:    getEnv("COOKIE_SAMESITE", "strict"),
			TimingDelayBaseMs: getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Security: SecurityConfig{
			LockoutWindow:       getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			AlertThreshold:      getEnvAsInt("LOCKOUT_ALERT_THRESHOLD", 3),
			LockoutThreshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			CoolDownThreshold:   getEnvAsInt("LOCKOUT_COOLDOWN_THRESHOLD", 10),
			LockoutDuration:     getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			AttemptRetention:    getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			SecurityLockLinkTTL: getEnvAsDuration("SECURITY_LOCK_LINK_TTL", 1*time.Hour),

			OTPTTL:            getEnvAsDuration("OTP_TTL", 10*time.Minute),
			OTPMaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			OTPTrackingWindow: getEnvAsDuration("OTP_TRACKING_WINDOW", 10*time.Minute),
			CaptchaThreshold:  getEnvAsInt("OTP_CAPTCHA_THRESHOLD", 3),
			OTPSweepInterval:  getEnvAsDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),

			CSRFTokenTTL:      getEnvAsDuration("CSRF_TOKEN_TTL", 1*time.Hour),
			CSRFSweepInterval: getEnvAsDuration("CSRF_SWEEP_INTERVAL", 10*time.Minute),

			RateSweepInterval:      getEnvAsDuration("RATE_SWEEP_INTERVAL", 1*time.Minute),
			RetentionSweepInterval: getEnvAsDuration("RETENTION_SWEEP_INTERVAL", 1*time.Hour),
			AuditRetention:         getEnvAsDuration("AUDIT_LOG_RETENTION", 365*24*time.Hour),
			RateLimits: map[string]RateLimit{
				ActionSignIn:        loadRateLimit("SIGNIN", 10, time.Minute),
				ActionSignUp:        loadRateLimit("SIGNUP", 5, time.Minute),
				ActionOTPSend:       loadRateLimit("OTP_SEND", 5, 10*time.Minute),
				ActionOTPVerify:     loadRateLimit("OTP_VERIFY", 10, 10*time.Minute),
				ActionCaptchaVerify: loadRateLimit("CAPTCHA_VERIFY", 10, time.Minute),
			},
		},
		Captcha: CaptchaConfig{
			Secret:    getEnv("CAPTCHA_SECRET", ""),
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			Timeout:   getEnvAsDuration("CAPTCHA_TIMEOUT", 5*time.Second),
			MinScore:  getEnvAsFloat("CAPTCHA_MIN_SCORE", 0),
		},
		Email: EmailConfig{
			Provider:    getEnv("EMAIL_PROVIDER", defaultEmailProvider(env)),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@example.com"),
			AppURLBase:  getEnv("APP_URL_BASE", "http://localhost:8080"),
			SendTimeout: getEnvAsDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Fraud: FraudConfig{
			PolicyPath:  getEnv("FRAUD_POLICY_PATH", ""),
			WatchPolicy: getEnvAsBool("FRAUD_POLICY_WATCH", true),
			QueueSize:   getEnvAsInt("FRAUD_QUEUE_SIZE", 256),
		},
	}

	if cfg.Database.Password == "" {
		return nil, errMissingDBPassword
	}

	if env == "production" && cfg.Captcha.Secret == "" {
		return nil, fmt.Errorf("CAPTCHA_SECRET is required in production")
	}

	if cfg.Email.Provider != "ses" && cfg.Email.Provider != "log" {
		return nil, fmt.Errorf("EMAIL_PROVIDER must be ses or log, got %q", cfg.Email.Provider)
	}
	if env == "production" && cfg.Email.Provider != "ses" {
		return nil, fmt.Errorf("EMAIL_PROVIDER must be ses in production")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultEmailProvider(env string) string {
	if env == "production" {
		return "ses"
	}
	return "log"
}

var errMissingDBPassword = fmt.Errorf("DB_PASSWORD is required")

// LoadDatabase reads only the database section, for tools that never serve requests
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := loadDatabaseConfig()
	if cfg.Password == "" {
		return nil, errMissingDBPassword
	}
	return &cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "estateguard"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

// validate rejects policies that would make the lockout ladder meaningless
func (s *SecurityConfig) validate() error {
	if s.AlertThreshold <= 0 || s.LockoutThreshold <= 0 || s.CoolDownThreshold <= 0 {
		return fmt.Errorf("lockout thresholds must be positive")
	}
	if s.AlertThreshold > s.LockoutThreshold {
		return fmt.Errorf("LOCKOUT_ALERT_THRESHOLD (%d) must not exceed LOCKOUT_THRESHOLD (%d)",
			s.AlertThreshold, s.LockoutThreshold)
	}
	if s.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if s.OTPMaxAttempts <= 0 || s.CaptchaThreshold <= 0 {
		return fmt.Errorf("OTP attempt and captcha thresholds must be positive")
	}
	for action, limit := range s.RateLimits {
		if limit.Max <= 0 || limit.Window <= 0 {
			return fmt.Errorf("rate limit for %s must have positive max and window", action)
		}
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func loadRateLimit(prefix string, max int, window time.Duration) RateLimit {
	return RateLimit{
		Max:    getEnvAsInt("RATE_LIMIT_"+prefix+"_MAX", max),
		Window: getEnvAsDuration("RATE_LIMIT_"+prefix+"_WINDOW", window),
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
