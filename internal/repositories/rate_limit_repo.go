package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/models"
)

// RateLimitEntryRepository handles database operations for rate limit
// counter rows. All updates are conditional on the row version so that
// concurrent attempts from the same client increment rather than clobber
// each other.
type RateLimitEntryRepository struct {
	db *database.DB
}

// NewRateLimitEntryRepository creates a new RateLimitEntryRepository
func NewRateLimitEntryRepository(db *database.DB) *RateLimitEntryRepository {
	return &RateLimitEntryRepository{db: db}
}

const rateLimitColumns = `id, client_id, attempt_type, attempt_count, success_count, failure_count,
	       first_attempt_at, last_attempt_at, blocked, blocked_until, block_reason, version`

func scanRateLimitRow(row rowScanner) (*models.RateLimitEntry, error) {
	var e models.RateLimitEntry

	err := row.Scan(
		&e.ID, &e.ClientID, &e.AttemptType, &e.AttemptCount, &e.SuccessCount,
		&e.FailureCount, &e.FirstAttempt, &e.LastAttempt, &e.Blocked,
		&e.BlockedUntil, &e.BlockReason, &e.Version,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// Get returns the entry for a (client, attempt type) pair, or ErrNotFound.
func (r *RateLimitEntryRepository) Get(ctx context.Context, clientID string, attemptType models.AttemptType) (*models.RateLimitEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM rate_limit_entries
		WHERE client_id = $1 AND attempt_type = $2
	`, rateLimitColumns)

	return scanRateLimitRow(r.db.Pool.QueryRow(ctx, query, clientID, attemptType))
}

// Create inserts a fresh entry. Returns ErrConflict if another writer
// created the row first; callers treat that as a retryable race.
func (r *RateLimitEntryRepository) Create(ctx context.Context, entry *models.RateLimitEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO rate_limit_entries (
			client_id, attempt_type, attempt_count, success_count, failure_count,
			first_attempt_at, last_attempt_at, blocked, blocked_until, block_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s
	`, rateLimitColumns)

	created, err := scanRateLimitRow(r.db.Pool.QueryRow(
		ctx, query,
		entry.ClientID, entry.AttemptType, entry.AttemptCount, entry.SuccessCount,
		entry.FailureCount, entry.FirstAttempt, entry.LastAttempt, entry.Blocked,
		entry.BlockedUntil, entry.BlockReason,
	))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to create rate limit entry: %w", err)
	}

	*entry = *created
	return nil
}

// Update writes the entry back conditionally on the version it was read at.
// Returns ErrVersionConflict when a concurrent writer got there first.
func (r *RateLimitEntryRepository) Update(ctx context.Context, entry *models.RateLimitEntry) error {
	query := `
		UPDATE rate_limit_entries
		SET attempt_count = $1, success_count = $2, failure_count = $3,
		    first_attempt_at = $4, last_attempt_at = $5, blocked = $6,
		    blocked_until = $7, block_reason = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		entry.AttemptCount, entry.SuccessCount, entry.FailureCount,
		entry.FirstAttempt, entry.LastAttempt, entry.Blocked,
		entry.BlockedUntil, entry.BlockReason,
		entry.ID, entry.Version,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrVersionConflict
	}

	entry.Version++
	return nil
}

// Delete removes the entry for a (client, attempt type) pair. Deleting a
// missing entry is not an error; the administrative reset is idempotent.
func (r *RateLimitEntryRepository) Delete(ctx context.Context, clientID string, attemptType models.AttemptType) error {
	query := `DELETE FROM rate_limit_entries WHERE client_id = $1 AND attempt_type = $2`

	_, err := r.db.Pool.Exec(ctx, query, clientID, attemptType)
	return database.MapPostgresError(err)
}

// DeleteStale removes non-blocked entries whose last attempt predates the
// cutoff. Blocked entries are retained until the block lifts.
func (r *RateLimitEntryRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM rate_limit_entries
		WHERE last_attempt_at < $1
		  AND (NOT blocked OR blocked_until <= CURRENT_TIMESTAMP)
	`

	tag, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
