package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditLogColumns = `id, event_type, actor_id, target_id, resource_type, resource_id,
	action, success, failure_reason, ip_address, metadata, created_at`

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.EventType, &log.ActorID, &log.TargetID,
		&log.ResourceType, &log.ResourceID, &log.Action, &log.Success,
		&log.FailureReason, &log.IPAddress, &log.Metadata, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

// Create writes a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Metadata == nil {
		log.Metadata = models.AuditMetadata{}
	}

	query := `
		INSERT INTO audit_logs (
			id, event_type, actor_id, target_id, resource_type, resource_id,
			action, success, failure_reason, ip_address, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + auditLogColumns

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.ID, log.EventType, log.ActorID, log.TargetID, log.ResourceType, log.ResourceID,
		log.Action, log.Success, log.FailureReason, log.IPAddress, log.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// ListByEventType returns the newest entries of one type
func (r *AuditLogRepository) ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditLogColumns + ` FROM audit_logs WHERE event_type = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}

// Cleanup removes entries created before cutoff
func (r *AuditLogRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected(), nil
}

