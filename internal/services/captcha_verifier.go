package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/estateguard/internal/models"
)

// CaptchaVerifier checks a client CAPTCHA token with the provider
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// CaptchaResult is the provider's siteverify response
type CaptchaResult struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// HTTPCaptchaVerifier posts tokens to a reCAPTCHA/hCaptcha/Turnstile style siteverify endpoint
type HTTPCaptchaVerifier struct {
	client    *http.Client
	verifyURL string
	secret    string
	minScore  float64
	logger    *slog.Logger
}

func NewHTTPCaptchaVerifier(verifyURL, secret string, timeout time.Duration, minScore float64, logger *slog.Logger) *HTTPCaptchaVerifier {
	return &HTTPCaptchaVerifier{
		client:    &http.Client{Timeout: timeout},
		verifyURL: verifyURL,
		secret:    secret,
		minScore:  minScore,
		logger:    logger,
	}
}

// Verify returns ErrCaptchaFailed for rejected tokens, timeouts and transport errors alike
func (v *HTTPCaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return models.ErrCaptchaRequired
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCaptchaFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("captcha provider unreachable", slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrCaptchaFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn("captcha provider returned non-200", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: provider status %d", models.ErrCaptchaFailed, resp.StatusCode)
	}

	var result CaptchaResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrCaptchaFailed, err)
	}

	if !result.Success {
		v.logger.Info("captcha rejected", slog.Any("error_codes", result.ErrorCodes))
		return models.ErrCaptchaFailed
	}
	if result.Score != nil && *result.Score < v.minScore {
		v.logger.Info("captcha score below minimum", slog.Float64("score", *result.Score))
		return models.ErrCaptchaFailed
	}
	return nil
}
