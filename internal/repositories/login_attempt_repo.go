package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/models"
)

// LoginAttemptRepository is the append-only attempt log behind brute-force detection
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record appends one attempt
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (identifier, user_id, status, ip_address, user_agent, attempted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Identifier,
		attempt.UserID,
		attempt.Status,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// CountFailures counts failed attempts for identifier at or after since
func (r *LoginAttemptRepository) CountFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND status = 'failed' AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identifier, since).Scan(&count)
	return count, err
}

// DeleteFailures clears the failures inside the window after a successful login
func (r *LoginAttemptRepository) DeleteFailures(ctx context.Context, identifier string, since time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempts
		WHERE identifier = $1 AND status = 'failed' AND attempted_at >= $2
	`

	result, err := r.db.Pool.Exec(ctx, query, identifier, since)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// DeleteExpired drops attempts past their retention deadline
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
