package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, username, password_hash, role, email_verified, is_root_admin, is_locked,
	security_lock_token, security_lock_expires_at, referred_by, referral_reward_status, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Role, &a.EmailVerified,
		&a.IsRootAdmin, &a.IsLocked,
		&a.SecurityLockToken, &a.SecurityLockExpiresAt,
		&a.ReferredBy, &a.ReferralRewardStatus,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, email, username, password_hash, role, email_verified, is_root_admin,
			referred_by, referral_reward_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.Username, account.PasswordHash, account.Role,
		account.EmailVerified, account.IsRootAdmin,
		account.ReferredBy, account.ReferralRewardStatus,
		account.CreatedAt, account.UpdatedAt,
	))
}

func (r *AccountRepository) UpdateEmail(ctx context.Context, id, email string) error {
	query := `UPDATE accounts SET email = $1, email_verified = TRUE, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, query, email, id)
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, query, passwordHash, id)
}

// SetSecurityLockToken stores the manual-lock link token emailed to a root admin
func (r *AccountRepository) SetSecurityLockToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	query := `
		UPDATE accounts SET security_lock_token = $1, security_lock_expires_at = $2, updated_at = NOW()
		WHERE id = $3
	`
	return r.execOne(ctx, query, token, expiresAt, id)
}

// ApplySecurityLock consumes an unexpired lock token and sets the manual lock in one statement
func (r *AccountRepository) ApplySecurityLock(ctx context.Context, token string, now time.Time) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET is_locked = TRUE, security_lock_token = NULL, security_lock_expires_at = NULL, updated_at = NOW()
		WHERE security_lock_token = $1 AND security_lock_expires_at > $2
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query, token, now))
}

// SetLocked sets or clears the admin-controlled lock
func (r *AccountRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	query := `UPDATE accounts SET is_locked = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, query, locked, id)
}

func (r *AccountRepository) SetRewardStatus(ctx context.Context, id, status string) error {
	query := `UPDATE accounts SET referral_reward_status = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, query, status, id)
}

// ListReferralsSince returns accounts referred by referrerID created at or after since, oldest first
func (r *AccountRepository) ListReferralsSince(ctx context.Context, referrerID string, since time.Time) ([]models.Referral, error) {
	query := `
		SELECT id, username, email, created_at
		FROM accounts
		WHERE referred_by = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, referrerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}

	referrals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Referral, error) {
		var ref models.Referral
		err := row.Scan(&ref.SubjectID, &ref.Username, &ref.Email, &ref.CreatedAt)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan referrals: %w", err)
	}
	return referrals, nil
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
