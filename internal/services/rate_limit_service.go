package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/config"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// RateLimitService is a fixed-window counter per action class and identifier
type RateLimitService struct {
	windows  store.Store[models.RateWindow]
	limits   map[string]config.RateLimit
	security *pkglogger.SecurityLogger
	logger   *slog.Logger
	clock    clock.Clock
}

func NewRateLimitService(
	windows store.Store[models.RateWindow],
	limits map[string]config.RateLimit,
	security *pkglogger.SecurityLogger,
	logger *slog.Logger,
	c clock.Clock,
) *RateLimitService {
	if c == nil {
		c = clock.System{}
	}
	return &RateLimitService{windows: windows, limits: limits, security: security, logger: logger, clock: c}
}

// Allow counts one call for action:identifier and reports whether it fits the
// action's limit. Unknown actions and store errors are allowed.
func (s *RateLimitService) Allow(ctx context.Context, action, identifier string) bool {
	limit, ok := s.limits[action]
	if !ok {
		s.logger.Warn("no rate limit configured", slog.String("action", action))
		return true
	}
	return s.AllowN(ctx, action, identifier, limit)
}

// AllowN is Allow with an explicit limit
func (s *RateLimitService) AllowN(ctx context.Context, action, identifier string, limit config.RateLimit) bool {
	key := fmt.Sprintf("%s:%s", action, identifier)
	now := s.clock.Now()

	var window models.RateWindow
	err := s.windows.Update(ctx, key, func(cur models.RateWindow, found bool) store.Mutation[models.RateWindow] {
		if !found || now.After(cur.WindowEnd) {
			cur = models.RateWindow{Key: key, WindowStart: now, WindowEnd: now.Add(limit.Window)}
		}
		cur.Count++
		window = cur
		// kept just past WindowEnd so the boundary instant still counts against it
		return store.Put(cur, cur.WindowEnd.Sub(now)+time.Millisecond)
	})
	if err != nil {
		s.logger.Error("rate limit store failed", slog.String("action", action), slog.Any("error", err))
		return true
	}

	if window.Count > limit.Max {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:       pkglogger.EventRateLimitExceeded,
			Identifier: identifier,
			Details: map[string]any{
				"action": action,
				"count":  window.Count,
				"max":    limit.Max,
			},
		})
		return false
	}
	return true
}

// Sweep drops expired windows
func (s *RateLimitService) Sweep(ctx context.Context) (int, error) {
	return s.windows.Sweep(ctx)
}
