package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LockoutRepository struct {
	pool *pgxpool.Pool
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{pool: db.Pool}
}

// Upsert writes the lock for lockout.SubjectKey. A re-lock never moves unlock_at earlier.
func (r *LockoutRepository) Upsert(ctx context.Context, lockout *models.Lockout) (*models.Lockout, error) {
	query := `
		INSERT INTO account_lockouts (subject_key, attempts, locked_at, unlock_at, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_key) DO UPDATE SET
			attempts   = EXCLUDED.attempts,
			locked_at  = EXCLUDED.locked_at,
			unlock_at  = GREATEST(account_lockouts.unlock_at, EXCLUDED.unlock_at),
			ip_address = EXCLUDED.ip_address
		RETURNING subject_key, attempts, locked_at, unlock_at, ip_address
	`

	var out models.Lockout
	err := r.pool.QueryRow(ctx, query,
		lockout.SubjectKey, lockout.Attempts, lockout.LockedAt, lockout.UnlockAt, lockout.IPAddress,
	).Scan(&out.SubjectKey, &out.Attempts, &out.LockedAt, &out.UnlockAt, &out.IPAddress)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &out, nil
}

// Get returns models.ErrNotFound when no record exists
func (r *LockoutRepository) Get(ctx context.Context, subjectKey string) (*models.Lockout, error) {
	query := `
		SELECT subject_key, attempts, locked_at, unlock_at, ip_address
		FROM account_lockouts WHERE subject_key = $1
	`

	var out models.Lockout
	err := r.pool.QueryRow(ctx, query, subjectKey).
		Scan(&out.SubjectKey, &out.Attempts, &out.LockedAt, &out.UnlockAt, &out.IPAddress)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &out, nil
}

func (r *LockoutRepository) Delete(ctx context.Context, subjectKey string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_lockouts WHERE subject_key = $1`, subjectKey)
	return database.MapPostgresError(err)
}

func (r *LockoutRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM account_lockouts WHERE unlock_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
