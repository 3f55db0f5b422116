package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/models"
)

// SecurityAlertRepository handles database operations for security alerts
type SecurityAlertRepository struct {
	db *database.DB
}

// NewSecurityAlertRepository creates a new SecurityAlertRepository
func NewSecurityAlertRepository(db *database.DB) *SecurityAlertRepository {
	return &SecurityAlertRepository{db: db}
}

const alertColumns = `id, user_id, anomaly_id, category, severity, severity_score, message,
	       status, created_at, expires_at, is_read, read_at, action_taken_at`

func scanAlertRow(row rowScanner) (*models.SecurityAlert, error) {
	var a models.SecurityAlert

	err := row.Scan(
		&a.ID, &a.UserID, &a.AnomalyID, &a.Category, &a.Severity,
		&a.SeverityScore, &a.Message, &a.Status, &a.CreatedAt, &a.ExpiresAt,
		&a.IsRead, &a.ReadAt, &a.ActionTakenAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func scanAlertRows(rows pgx.Rows) ([]*models.SecurityAlert, error) {
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)

	for rows.Next() {
		alert, err := scanAlertRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// CreateOrMerge inserts an alert unless an undelivered or unread alert of
// the same category already exists for the user since dedupSince; then the
// existing alert's severity is raised to the max of the two instead. The
// candidate row is locked so two dispatchers cannot both insert.
// Returns the stored alert and whether it was merged into an existing row.
func (r *SecurityAlertRepository) CreateOrMerge(ctx context.Context, alert *models.SecurityAlert, dedupSince time.Time) (*models.SecurityAlert, bool, error) {
	var result *models.SecurityAlert
	merged := false

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		findQuery := fmt.Sprintf(`
			SELECT %s FROM security_alerts
			WHERE user_id = $1 AND category = $2 AND created_at >= $3
			  AND (status = 'pending' OR (status = 'delivered' AND NOT is_read))
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		`, alertColumns)

		existing, err := scanAlertRow(tx.QueryRow(ctx, findQuery, alert.UserID, alert.Category, dedupSince))
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to find dedup candidate: %w", err)
		}

		if existing != nil {
			if alert.SeverityScore > existing.SeverityScore {
				updateQuery := fmt.Sprintf(`
					UPDATE security_alerts
					SET severity_score = $1, severity = $2, anomaly_id = $3
					WHERE id = $4
					RETURNING %s
				`, alertColumns)

				existing, err = scanAlertRow(tx.QueryRow(ctx, updateQuery,
					alert.SeverityScore, alert.Severity, alert.AnomalyID, existing.ID))
				if err != nil {
					return fmt.Errorf("failed to raise alert severity: %w", err)
				}
			}
			result = existing
			merged = true
			return nil
		}

		insertQuery := fmt.Sprintf(`
			INSERT INTO security_alerts (
				user_id, anomaly_id, category, severity, severity_score,
				message, status, created_at, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING %s
		`, alertColumns)

		result, err = scanAlertRow(tx.QueryRow(ctx, insertQuery,
			alert.UserID, alert.AnomalyID, alert.Category, alert.Severity,
			alert.SeverityScore, alert.Message, alert.Status, alert.CreatedAt,
			alert.ExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to create security alert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, merged, nil
}

// GetByID returns a single alert, or ErrNotFound.
func (r *SecurityAlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM security_alerts
		WHERE id = $1
	`, alertColumns)

	return scanAlertRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ListForUser returns a user's alerts, newest first. Past-due rows are
// lazily transitioned to expired first, so the default view never shows a
// stale active alert. Expired alerts are only included on request.
func (r *SecurityAlertRepository) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error) {
	// Lazy expiry for this user's past-due alerts
	expireQuery := `
		UPDATE security_alerts
		SET status = 'expired'
		WHERE user_id = $1 AND expires_at <= CURRENT_TIMESTAMP
		  AND status NOT IN ('expired', 'failed')
	`
	if _, err := r.db.Pool.Exec(ctx, expireQuery, userID); err != nil {
		return nil, database.MapPostgresError(err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM security_alerts
		WHERE user_id = $1
		  AND ($2 OR status <> 'expired')
		  AND (NOT $3 OR NOT is_read)
		ORDER BY created_at DESC
		LIMIT $4
	`, alertColumns)

	rows, err := r.db.Pool.Query(ctx, query, userID, includeExpired, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security alerts: %w", err)
	}

	return scanAlertRows(rows)
}

// MarkRead sets the read flag. Idempotent: a second call leaves the
// original read_at untouched. The user scope prevents cross-user acks.
func (r *SecurityAlertRepository) MarkRead(ctx context.Context, alertID, userID uuid.UUID) error {
	query := `
		UPDATE security_alerts
		SET is_read = true, read_at = COALESCE(read_at, CURRENT_TIMESTAMP)
		WHERE id = $1 AND user_id = $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, alertID, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkActionTaken records that the user acted on the alert; taking action
// also implies having read it.
func (r *SecurityAlertRepository) MarkActionTaken(ctx context.Context, alertID, userID uuid.UUID) error {
	query := `
		UPDATE security_alerts
		SET action_taken_at = COALESCE(action_taken_at, CURRENT_TIMESTAMP),
		    is_read = true, read_at = COALESCE(read_at, CURRENT_TIMESTAMP)
		WHERE id = $1 AND user_id = $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, alertID, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions an alert's delivery status. Terminal states are
// never overwritten, which keeps sweeps and delivery callbacks idempotent.
func (r *SecurityAlertRepository) UpdateStatus(ctx context.Context, alertID uuid.UUID, status models.AlertStatus) error {
	query := `
		UPDATE security_alerts
		SET status = $1
		WHERE id = $2 AND status NOT IN ('expired', 'failed')
	`

	tag, err := r.db.Pool.Exec(ctx, query, status, alertID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListPendingDelivery returns alerts awaiting delivery, oldest first
func (r *SecurityAlertRepository) ListPendingDelivery(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM security_alerts
		WHERE status = 'pending' AND expires_at > CURRENT_TIMESTAMP
		ORDER BY created_at ASC
		LIMIT $1
	`, alertColumns)

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending alerts: %w", err)
	}

	return scanAlertRows(rows)
}

// SweepExpired transitions all past-due, non-terminal alerts to expired.
// Safe to run concurrently and repeatedly.
func (r *SecurityAlertRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE security_alerts
		SET status = 'expired'
		WHERE expires_at <= CURRENT_TIMESTAMP
		  AND status NOT IN ('expired', 'failed')
	`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
