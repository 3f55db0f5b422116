package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/database"
	"github.com/meridianbank/authrisk/internal/models"
)

// LoginPatternRepository handles database operations for user login
// baselines. Updates are version-conditional; true concurrent logins for
// the same user are rare but must not clobber each other.
type LoginPatternRepository struct {
	db *database.DB
}

// NewLoginPatternRepository creates a new LoginPatternRepository
func NewLoginPatternRepository(db *database.DB) *LoginPatternRepository {
	return &LoginPatternRepository{db: db}
}

const loginPatternColumns = `user_id, device_counts, location_counts, hour_histogram,
	       last_country, last_region, last_city, last_latitude, last_longitude,
	       last_login_at, updated_at, version`

func scanLoginPatternRow(row rowScanner) (*models.UserLoginPattern, error) {
	var p models.UserLoginPattern

	err := row.Scan(
		&p.UserID, &p.DeviceCounts, &p.LocationCounts, &p.HourHistogram,
		&p.LastCountry, &p.LastRegion, &p.LastCity, &p.LastLatitude,
		&p.LastLongitude, &p.LastLoginAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

// Get returns a user's pattern, or ErrNotFound before the first
// successful login.
func (r *LoginPatternRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserLoginPattern, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM user_login_patterns
		WHERE user_id = $1
	`, loginPatternColumns)

	return scanLoginPatternRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// Create inserts the initial baseline row. Returns ErrConflict when a
// concurrent first login already created it.
func (r *LoginPatternRepository) Create(ctx context.Context, pattern *models.UserLoginPattern) error {
	query := fmt.Sprintf(`
		INSERT INTO user_login_patterns (
			user_id, device_counts, location_counts, hour_histogram,
			last_country, last_region, last_city, last_latitude, last_longitude,
			last_login_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s
	`, loginPatternColumns)

	created, err := scanLoginPatternRow(r.db.Pool.QueryRow(
		ctx, query,
		pattern.UserID, pattern.DeviceCounts, pattern.LocationCounts,
		pattern.HourHistogram, pattern.LastCountry, pattern.LastRegion,
		pattern.LastCity, pattern.LastLatitude, pattern.LastLongitude,
		pattern.LastLoginAt, pattern.UpdatedAt,
	))
	if err != nil {
		return err
	}

	*pattern = *created
	return nil
}

// Update writes the pattern back conditionally on the version it was read
// at. Returns ErrVersionConflict on a lost race.
func (r *LoginPatternRepository) Update(ctx context.Context, pattern *models.UserLoginPattern) error {
	query := `
		UPDATE user_login_patterns
		SET device_counts = $1, location_counts = $2, hour_histogram = $3,
		    last_country = $4, last_region = $5, last_city = $6,
		    last_latitude = $7, last_longitude = $8, last_login_at = $9,
		    updated_at = $10, version = version + 1
		WHERE user_id = $11 AND version = $12
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		pattern.DeviceCounts, pattern.LocationCounts, pattern.HourHistogram,
		pattern.LastCountry, pattern.LastRegion, pattern.LastCity,
		pattern.LastLatitude, pattern.LastLongitude, pattern.LastLoginAt,
		pattern.UpdatedAt, pattern.UserID, pattern.Version,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrVersionConflict
	}

	pattern.Version++
	return nil
}
