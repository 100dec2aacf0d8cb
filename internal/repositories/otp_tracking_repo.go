package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/estateguard/internal/database"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OtpTrackingRepository persists per-(email, ip) OTP counters
type OtpTrackingRepository struct {
	pool *pgxpool.Pool
}

func NewOtpTrackingRepository(db *database.DB) *OtpTrackingRepository {
	return &OtpTrackingRepository{pool: db.Pool}
}

const otpTrackingColumns = `id, email, ip_address, user_agent, otp_request_count, failed_otp_attempts,
	last_otp_at, last_failed_at, requires_captcha, captcha_verified_at, created_at, expires_at`

func scanOtpTrackingRow(scanner rowScanner) (*models.OtpTracking, error) {
	var t models.OtpTracking
	err := scanner.Scan(
		&t.ID, &t.Email, &t.IPAddress, &t.UserAgent, &t.OtpRequestCount, &t.FailedOtpAttempts,
		&t.LastOtpAt, &t.LastFailedAt, &t.RequiresCaptcha, &t.CaptchaVerifiedAt,
		&t.CreatedAt, &t.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// GetOrCreate returns the live record for (email, ip). A row created more than
// window ago is reset in place, so racing callers always converge on one row.
func (r *OtpTrackingRepository) GetOrCreate(ctx context.Context, email, ip, userAgent string, now time.Time, window time.Duration) (*models.OtpTracking, error) {
	query := `
		INSERT INTO otp_tracking (email, ip_address, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email, ip_address) DO UPDATE SET
			user_agent = EXCLUDED.user_agent,
			otp_request_count   = CASE WHEN otp_tracking.created_at <= $6 THEN 0 ELSE otp_tracking.otp_request_count END,
			failed_otp_attempts = CASE WHEN otp_tracking.created_at <= $6 THEN 0 ELSE otp_tracking.failed_otp_attempts END,
			last_otp_at         = CASE WHEN otp_tracking.created_at <= $6 THEN NULL ELSE otp_tracking.last_otp_at END,
			last_failed_at      = CASE WHEN otp_tracking.created_at <= $6 THEN NULL ELSE otp_tracking.last_failed_at END,
			requires_captcha    = CASE WHEN otp_tracking.created_at <= $6 THEN FALSE ELSE otp_tracking.requires_captcha END,
			captcha_verified_at = CASE WHEN otp_tracking.created_at <= $6 THEN NULL ELSE otp_tracking.captcha_verified_at END,
			expires_at          = CASE WHEN otp_tracking.created_at <= $6 THEN EXCLUDED.expires_at ELSE otp_tracking.expires_at END,
			created_at          = CASE WHEN otp_tracking.created_at <= $6 THEN EXCLUDED.created_at ELSE otp_tracking.created_at END
		RETURNING ` + otpTrackingColumns

	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query,
		email, ip, userAgent, now, now.Add(window), now.Add(-window),
	))
}

// Evaluate resets the row in place when it is older than window and
// otherwise recomputes requires_captcha from the stored counters. Counters are
// never written from a caller's snapshot.
func (r *OtpTrackingRepository) Evaluate(ctx context.Context, id string, now time.Time, window time.Duration, threshold int) (*models.OtpTracking, error) {
	query := `
		UPDATE otp_tracking SET
			otp_request_count   = CASE WHEN created_at <= $2 THEN 0 ELSE otp_request_count END,
			failed_otp_attempts = CASE WHEN created_at <= $2 THEN 0 ELSE failed_otp_attempts END,
			last_otp_at         = CASE WHEN created_at <= $2 THEN NULL ELSE last_otp_at END,
			last_failed_at      = CASE WHEN created_at <= $2 THEN NULL ELSE last_failed_at END,
			captcha_verified_at = CASE WHEN created_at <= $2 THEN NULL ELSE captcha_verified_at END,
			requires_captcha    = CASE WHEN created_at <= $2 THEN FALSE
				ELSE (otp_request_count >= $5 OR failed_otp_attempts >= $5) END,
			expires_at          = CASE WHEN created_at <= $2 THEN $4 ELSE expires_at END,
			created_at          = CASE WHEN created_at <= $2 THEN $3 ELSE created_at END
		WHERE id = $1
		RETURNING ` + otpTrackingColumns

	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query,
		id, now.Add(-window), now, now.Add(window), threshold,
	))
}

// IncrementRequestCount bumps the request counter and sets requires_captcha
// from the new value in the same statement
func (r *OtpTrackingRepository) IncrementRequestCount(ctx context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error) {
	query := `
		UPDATE otp_tracking SET
			otp_request_count = otp_request_count + 1,
			last_otp_at = $2,
			requires_captcha = (otp_request_count + 1 >= $3 OR failed_otp_attempts >= $3)
		WHERE id = $1
		RETURNING ` + otpTrackingColumns
	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query, id, now, threshold))
}

func (r *OtpTrackingRepository) IncrementFailedAttempts(ctx context.Context, id string, now time.Time, threshold int) (*models.OtpTracking, error) {
	query := `
		UPDATE otp_tracking SET
			failed_otp_attempts = failed_otp_attempts + 1,
			last_failed_at = $2,
			requires_captcha = (otp_request_count >= $3 OR failed_otp_attempts + 1 >= $3)
		WHERE id = $1
		RETURNING ` + otpTrackingColumns
	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query, id, now, threshold))
}

// MarkCaptchaVerified clears the requirement and leaves the counters alone
func (r *OtpTrackingRepository) MarkCaptchaVerified(ctx context.Context, id string, now time.Time) (*models.OtpTracking, error) {
	query := `
		UPDATE otp_tracking SET requires_captcha = FALSE, captcha_verified_at = $2
		WHERE id = $1
		RETURNING ` + otpTrackingColumns
	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query, id, now))
}

// Reset zeroes the counters and starts a new window at now
func (r *OtpTrackingRepository) Reset(ctx context.Context, id string, now time.Time, window time.Duration) (*models.OtpTracking, error) {
	query := `
		UPDATE otp_tracking SET
			otp_request_count = 0, failed_otp_attempts = 0, requires_captcha = FALSE,
			created_at = $2, expires_at = $3
		WHERE id = $1
		RETURNING ` + otpTrackingColumns
	return scanOtpTrackingRow(r.pool.QueryRow(ctx, query, id, now, now.Add(window)))
}

func (r *OtpTrackingRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_tracking WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
