package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/models"
)

// LoginAttemptRepository handles database operations for the attempt ledger
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const loginAttemptColumns = `id, user_id, email, success, ip_address, user_agent, device_fingerprint,
	       country, region, city, latitude, longitude, attempted_at, anomalous, expires_at`

func scanLoginAttemptRow(row rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt

	err := row.Scan(
		&a.ID, &a.UserID, &a.Email, &a.Success, &a.IPAddress, &a.UserAgent,
		&a.DeviceFingerprint, &a.Country, &a.Region, &a.City, &a.Latitude,
		&a.Longitude, &a.AttemptedAt, &a.Anomalous, &a.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func scanLoginAttemptRows(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)

	for rows.Next() {
		attempt, err := scanLoginAttemptRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login attempt rows: %w", err)
	}

	return attempts, nil
}

// Create persists a login attempt and returns the stored row
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error) {
	query := fmt.Sprintf(`
		INSERT INTO login_attempts (
			user_id, email, success, ip_address, user_agent, device_fingerprint,
			country, region, city, latitude, longitude, attempted_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING %s
	`, loginAttemptColumns)

	created, err := scanLoginAttemptRow(r.db.Pool.QueryRow(
		ctx, query,
		attempt.UserID, attempt.Email, attempt.Success, attempt.IPAddress,
		attempt.UserAgent, attempt.DeviceFingerprint, attempt.Country,
		attempt.Region, attempt.City, attempt.Latitude, attempt.Longitude,
		attempt.AttemptedAt, attempt.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}

	return created, nil
}

// RecentFailures returns failed attempts for an email since the given time,
// newest first. Used by the anomaly detector's velocity rule.
func (r *LoginAttemptRepository) RecentFailures(ctx context.Context, email string, since time.Time) ([]*models.LoginAttempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM login_attempts
		WHERE email = $1 AND success = false AND attempted_at >= $2
		ORDER BY attempted_at DESC
	`, loginAttemptColumns)

	rows, err := r.db.Pool.Query(ctx, query, email, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", err)
	}

	return scanLoginAttemptRows(rows)
}

// LatestForUser returns a user's most recent attempt, or ErrNotFound.
func (r *LoginAttemptRepository) LatestForUser(ctx context.Context, userID uuid.UUID) (*models.LoginAttempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM login_attempts
		WHERE user_id = $1
		ORDER BY attempted_at DESC
		LIMIT 1
	`, loginAttemptColumns)

	return scanLoginAttemptRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// MarkAnomalous sets the anomalous flag on an attempt. This is the ledger's
// only permitted mutation and only the anomaly detector calls it.
func (r *LoginAttemptRepository) MarkAnomalous(ctx context.Context, attemptID uuid.UUID) error {
	query := `UPDATE login_attempts SET anomalous = true WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, attemptID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes ledger rows past their retention expiry, skipping
// any still referenced by an anomaly detection (those stay as audit trail).
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM login_attempts
		WHERE expires_at <= CURRENT_TIMESTAMP
		  AND id NOT IN (SELECT attempt_id FROM anomaly_detections)
	`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
