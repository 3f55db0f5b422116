package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/models"
)

// AnomalyRepository handles database operations for anomaly detections.
// Rows are append-only except for resolution; nothing here deletes.
type AnomalyRepository struct {
	db *database.DB
}

// NewAnomalyRepository creates a new AnomalyRepository
func NewAnomalyRepository(db *database.DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

const anomalyColumns = `id, attempt_id, user_id, anomaly_type, severity, detected_at,
	       is_resolved, resolved_by, resolved_at`

func scanAnomalyRow(row rowScanner) (*models.AnomalyDetection, error) {
	var d models.AnomalyDetection

	err := row.Scan(
		&d.ID, &d.AttemptID, &d.UserID, &d.AnomalyType, &d.Severity,
		&d.DetectedAt, &d.IsResolved, &d.ResolvedBy, &d.ResolvedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &d, nil
}

func scanAnomalyRows(rows pgx.Rows) ([]*models.AnomalyDetection, error) {
	defer rows.Close()

	detections := make([]*models.AnomalyDetection, 0)

	for rows.Next() {
		detection, err := scanAnomalyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly detection: %w", err)
		}
		detections = append(detections, detection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly rows: %w", err)
	}

	return detections, nil
}

// Create persists a new detection and returns the stored row
func (r *AnomalyRepository) Create(ctx context.Context, detection *models.AnomalyDetection) (*models.AnomalyDetection, error) {
	query := fmt.Sprintf(`
		INSERT INTO anomaly_detections (attempt_id, user_id, anomaly_type, severity, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, anomalyColumns)

	created, err := scanAnomalyRow(r.db.Pool.QueryRow(
		ctx, query,
		detection.AttemptID, detection.UserID, detection.AnomalyType,
		detection.Severity, detection.DetectedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create anomaly detection: %w", err)
	}

	return created, nil
}

// GetByID returns a single detection, or ErrNotFound.
func (r *AnomalyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnomalyDetection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM anomaly_detections
		WHERE id = $1
	`, anomalyColumns)

	return scanAnomalyRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ListUnresolved returns open detections for operator review, newest first
func (r *AnomalyRepository) ListUnresolved(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM anomaly_detections
		WHERE NOT is_resolved
		ORDER BY detected_at DESC
		LIMIT $1 OFFSET $2
	`, anomalyColumns)

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved anomalies: %w", err)
	}

	return scanAnomalyRows(rows)
}

// ListForUser returns a user's detections, newest first
func (r *AnomalyRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM anomaly_detections
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2 OFFSET $3
	`, anomalyColumns)

	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user anomalies: %w", err)
	}

	return scanAnomalyRows(rows)
}

// Resolve marks a detection resolved by an operator. Resolving an already
// resolved detection is a no-op, keeping the first resolver on record.
func (r *AnomalyRepository) Resolve(ctx context.Context, id, resolvedBy uuid.UUID) error {
	query := `
		UPDATE anomaly_detections
		SET is_resolved = true,
		    resolved_by = COALESCE(resolved_by, $1),
		    resolved_at = COALESCE(resolved_at, CURRENT_TIMESTAMP)
		WHERE id = $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, resolvedBy, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
