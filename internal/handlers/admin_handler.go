package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/estateguard/internal/auth"
	"github.com/BradenHooton/estateguard/internal/models"
	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// UnlockService lifts timed and manual locks
type UnlockService interface {
	Unlock(ctx context.Context, actorID, accountID, ip string) error
}

// AuditLogReader lists recorded security decisions
type AuditLogReader interface {
	ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

// AdminHandler serves admin account operations and the audit trail
type AdminHandler struct {
	service  UnlockService
	audits   AuditLogReader
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewAdminHandler(service UnlockService, audits AuditLogReader, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, audits: audits, ipConfig: ipConfig, logger: logger}
}

// AuditLogResponse is one audit entry
type AuditLogResponse struct {
	ID            string               `json:"id"`
	EventType     string               `json:"event_type"`
	ActorID       *string              `json:"actor_id,omitempty"`
	TargetID      *string              `json:"target_id,omitempty"`
	ResourceType  *string              `json:"resource_type,omitempty"`
	ResourceID    *string              `json:"resource_id,omitempty"`
	Action        string               `json:"action"`
	Success       bool                 `json:"success"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	IPAddress     *string              `json:"ip_address,omitempty"`
	Metadata      models.AuditMetadata `json:"metadata,omitempty"`
	CreatedAt     string               `json:"created_at"`
}

// AuditLogsResponse wraps a page of audit entries
type AuditLogsResponse struct {
	Success bool               `json:"success"`
	Logs    []AuditLogResponse `json:"logs"`
}

type auditQuery struct {
	EventType string `validate:"required,oneof=account_locked account_unlocked manual_security_lock referral_fraud password_reset"`
}

// ListAuditLogs returns the newest audit entries of one event type
// @Router /admin/audit-logs [get]
func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := auditQuery{EventType: r.URL.Query().Get("event_type")}
	if err := validate.Struct(q); err != nil {
		pkghttp.WriteBadRequest(w, "event_type must be a known audit event type")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 || l > maxAuditLimit {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = l
	}

	logs, err := h.audits.ListByEventType(r.Context(), q.EventType, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := AuditLogsResponse{Success: true, Logs: make([]AuditLogResponse, 0, len(logs))}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, AuditLogResponse{
			ID:            l.ID.String(),
			EventType:     l.EventType,
			ActorID:       l.ActorID,
			TargetID:      l.TargetID,
			ResourceType:  l.ResourceType,
			ResourceID:    l.ResourceID,
			Action:        l.Action,
			Success:       l.Success,
			FailureReason: l.FailureReason,
			IPAddress:     l.IPAddress,
			Metadata:      l.Metadata,
			CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// UnlockAccount clears the lockout and manual lock on an account
// @Router /admin/accounts/{id}/unlock [post]
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	accountID := chi.URLParam(r, "id")
	if err := validate.Var(accountID, "required,uuid"); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	if err := h.service.Unlock(r.Context(), claims.UserID, accountID, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Account unlocked"})
}
