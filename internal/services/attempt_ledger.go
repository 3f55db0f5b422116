package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/models"
)

// AttemptStore defines the interface for attempt ledger persistence
type AttemptStore interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error)
	RecentFailures(ctx context.Context, email string, since time.Time) ([]*models.LoginAttempt, error)
	LatestForUser(ctx context.Context, userID uuid.UUID) (*models.LoginAttempt, error)
	MarkAnomalous(ctx context.Context, attemptID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// RecordAttemptInput carries everything the ledger stores about one
// login attempt. UserID is nil when the email does not match a known
// account; the attempt is still recorded.
type RecordAttemptInput struct {
	UserID            *uuid.UUID
	Email             string
	Success           bool
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          models.Location
}

// AttemptLedger is the durable, append-style record of login attempts.
// Recording must never be skipped, even for rate-limited attempts, so a
// write failure here is surfaced rather than swallowed: the audit trail is
// a contractual guarantee.
type AttemptLedger struct {
	repo   AttemptStore
	config config.RiskConfig
	logger *slog.Logger
}

// NewAttemptLedger creates a new AttemptLedger
func NewAttemptLedger(repo AttemptStore, cfg config.RiskConfig, logger *slog.Logger) *AttemptLedger {
	return &AttemptLedger{
		repo:   repo,
		config: cfg,
		logger: logger,
	}
}

// Record persists one attempt and returns the stored row.
func (l *AttemptLedger) Record(ctx context.Context, input RecordAttemptInput) (*models.LoginAttempt, error) {
	if input.Email == "" {
		return nil, fmt.Errorf("%w: empty email", models.ErrBadRequest)
	}
	if input.IPAddress == "" {
		return nil, fmt.Errorf("%w: empty ip address", models.ErrBadRequest)
	}

	fingerprint := input.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = DeviceFingerprint(input.IPAddress, input.UserAgent)
	}

	now := time.Now()
	attempt := &models.LoginAttempt{
		UserID:            input.UserID,
		Email:             input.Email,
		Success:           input.Success,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: fingerprint,
		Country:           input.Location.Country,
		Region:            input.Location.Region,
		City:              input.Location.City,
		Latitude:          input.Location.Latitude,
		Longitude:         input.Location.Longitude,
		AttemptedAt:       now,
		ExpiresAt:         now.Add(l.config.AttemptRetention),
	}

	return l.repo.Create(ctx, attempt)
}

// RecentFailures returns failed attempts for the email within the window,
// newest first.
func (l *AttemptLedger) RecentFailures(ctx context.Context, email string, window time.Duration) ([]*models.LoginAttempt, error) {
	return l.repo.RecentFailures(ctx, email, time.Now().Add(-window))
}

// Latest returns the user's most recent attempt, or nil without one.
func (l *AttemptLedger) Latest(ctx context.Context, userID uuid.UUID) (*models.LoginAttempt, error) {
	attempt, err := l.repo.LatestForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return attempt, nil
}

// FlagAnomalous sets the one permitted post-creation mutation on a row.
func (l *AttemptLedger) FlagAnomalous(ctx context.Context, attemptID uuid.UUID) error {
	return l.repo.MarkAnomalous(ctx, attemptID)
}

// CleanupExpired removes attempts past retention. Runs as a periodic
// background job.
func (l *AttemptLedger) CleanupExpired(ctx context.Context) (int64, error) {
	return l.repo.DeleteExpired(ctx)
}

// DeviceFingerprint creates a hash of IP + User-Agent for device
// identification when the fingerprint provider didn't supply one.
func DeviceFingerprint(ipAddress, userAgent string) string {
	data := []byte(fmt.Sprintf("%s:%s", ipAddress, userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}
