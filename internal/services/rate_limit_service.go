package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/metrics"
	"github.com/meridianbank/authrisk/internal/models"
)

// RateLimitStore defines the interface for rate limit entry persistence
type RateLimitStore interface {
	Get(ctx context.Context, clientID string, attemptType models.AttemptType) (*models.RateLimitEntry, error)
	Create(ctx context.Context, entry *models.RateLimitEntry) error
	Update(ctx context.Context, entry *models.RateLimitEntry) error
	Delete(ctx context.Context, clientID string, attemptType models.AttemptType) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// RateLimitService implements sliding-window rate limiting with progressive
// blocking for registration and login attempts.
//
// Error handling is deliberately split in two: transient version conflicts
// on the counter row are retried and then dropped (fail open on
// bookkeeping), while hard storage errors are surfaced so the caller's
// policy can decide what to do.
type RateLimitService struct {
	repo   RateLimitStore
	config config.RiskConfig
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo RateLimitStore, cfg config.RiskConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: cfg,
		logger: logger,
	}
}

func validateKey(clientID string, attemptType models.AttemptType) error {
	if clientID == "" {
		return fmt.Errorf("%w: empty client identifier", models.ErrBadRequest)
	}
	if !attemptType.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownAttemptType, attemptType)
	}
	return nil
}

// CanAttempt reports whether the client may attempt the given flow right
// now. Returns false only while blocked or when the current window's
// failure budget is spent; a missing entry always allows.
func (s *RateLimitService) CanAttempt(ctx context.Context, clientID string, attemptType models.AttemptType) (bool, error) {
	if err := validateKey(clientID, attemptType); err != nil {
		return false, err
	}

	entry, err := s.repo.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read rate limit entry: %w", err)
	}

	now := time.Now()
	if entry.BlockActive(now) {
		return false, nil
	}
	if entry.WindowExpired(now, s.config.AttemptWindow) {
		return true, nil
	}
	return entry.FailureCount < s.config.MaxFailedAttempts, nil
}

// RecordAttempt updates the client's counters with the attempt outcome.
// Concurrent attempts racing on the same row are resolved by conditional
// updates; after the retry budget is exhausted the attempt is logged and
// dropped rather than failing the caller's request.
func (s *RateLimitService) RecordAttempt(ctx context.Context, clientID string, attemptType models.AttemptType, success bool) error {
	if err := validateKey(clientID, attemptType); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RecordRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		recorded, err := s.recordOnce(ctx, clientID, attemptType, success)
		if err == nil {
			if recorded {
				outcome := "failure"
				if success {
					outcome = "success"
				}
				metrics.AttemptsRecorded.WithLabelValues(string(attemptType), outcome).Inc()
			}
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) && !errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("failed to record attempt: %w", err)
		}
		lastErr = err
	}

	// Fail open on bookkeeping: the attempt goes uncounted rather than
	// failing the caller's request.
	metrics.BookkeepingFailures.Inc()
	s.logger.Warn("dropping rate limit update after retry exhaustion",
		slog.String("client_id", clientID),
		slog.String("attempt_type", string(attemptType)),
		slog.Any("error", lastErr))
	return nil
}

// recordOnce performs a single read-modify-write cycle. The bool result
// reports whether the outcome was actually counted (a success arriving
// during an active block is ignored, preserving the counter invariant).
func (s *RateLimitService) recordOnce(ctx context.Context, clientID string, attemptType models.AttemptType, success bool) (bool, error) {
	now := time.Now()

	entry, err := s.repo.Get(ctx, clientID, attemptType)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return false, err
		}
		entry = &models.RateLimitEntry{
			ClientID:     clientID,
			AttemptType:  attemptType,
			FirstAttempt: now,
			LastAttempt:  now,
		}
		s.applyOutcome(entry, attemptType, success, now)
		return true, s.repo.Create(ctx, entry)
	}

	if entry.BlockActive(now) {
		if success {
			return false, nil
		}
	} else if entry.WindowExpired(now, s.config.AttemptWindow) {
		// Window rolled over: start a fresh window reflecting only this
		// attempt, never accumulating with stale counts.
		entry.AttemptCount = 0
		entry.SuccessCount = 0
		entry.FailureCount = 0
		entry.FirstAttempt = now
		entry.Blocked = false
		entry.BlockedUntil = nil
		entry.BlockReason = nil
	}

	entry.LastAttempt = now
	s.applyOutcome(entry, attemptType, success, now)
	return true, s.repo.Update(ctx, entry)
}

func (s *RateLimitService) applyOutcome(entry *models.RateLimitEntry, attemptType models.AttemptType, success bool, now time.Time) {
	entry.AttemptCount++
	if success {
		entry.SuccessCount++
		return
	}

	entry.FailureCount++
	if !entry.Blocked && entry.FailureCount >= s.config.MaxFailedAttempts {
		until := now.Add(s.config.BlockDuration)
		reason := fmt.Sprintf("%d failed %s attempts within %s",
			entry.FailureCount, attemptType, s.config.AttemptWindow)
		entry.Blocked = true
		entry.BlockedUntil = &until
		entry.BlockReason = &reason

		metrics.ClientsBlocked.WithLabelValues(string(attemptType)).Inc()
		s.logger.Warn("client blocked",
			slog.String("client_id", entry.ClientID),
			slog.String("attempt_type", string(attemptType)),
			slog.Int("failed_attempts", entry.FailureCount),
			slog.Time("blocked_until", until))
	}
}

// RemainingAttempts returns how many failures the client has left in the
// current window: the full budget with no entry or an expired window, zero
// while blocked.
func (s *RateLimitService) RemainingAttempts(ctx context.Context, clientID string, attemptType models.AttemptType) (int, error) {
	if err := validateKey(clientID, attemptType); err != nil {
		return 0, err
	}

	entry, err := s.repo.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.config.MaxFailedAttempts, nil
		}
		return 0, fmt.Errorf("failed to read rate limit entry: %w", err)
	}

	now := time.Now()
	if entry.BlockActive(now) {
		return 0, nil
	}
	if entry.WindowExpired(now, s.config.AttemptWindow) {
		return s.config.MaxFailedAttempts, nil
	}

	remaining := s.config.MaxFailedAttempts - entry.FailureCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TimeUntilReset returns how long until the block lifts (if blocked), or
// until the window expires (if counting), or nil with no active state.
func (s *RateLimitService) TimeUntilReset(ctx context.Context, clientID string, attemptType models.AttemptType) (*time.Duration, error) {
	if err := validateKey(clientID, attemptType); err != nil {
		return nil, err
	}

	entry, err := s.repo.Get(ctx, clientID, attemptType)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rate limit entry: %w", err)
	}

	now := time.Now()
	if entry.BlockActive(now) {
		d := entry.BlockedUntil.Sub(now)
		return &d, nil
	}
	if !entry.WindowExpired(now, s.config.AttemptWindow) {
		d := entry.FirstAttempt.Add(s.config.AttemptWindow).Sub(now)
		return &d, nil
	}
	return nil, nil
}

// Reset is the administrative override: it deletes the entry outright.
func (s *RateLimitService) Reset(ctx context.Context, clientID string, attemptType models.AttemptType) error {
	if err := validateKey(clientID, attemptType); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, clientID, attemptType); err != nil {
		return fmt.Errorf("failed to reset rate limit entry: %w", err)
	}

	s.logger.Info("rate limit entry reset",
		slog.String("client_id", clientID),
		slog.String("attempt_type", string(attemptType)))
	return nil
}

// CleanupStale sweeps non-blocked entries idle past the retention
// threshold. Runs as a periodic background job.
func (s *RateLimitService) CleanupStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config.EntryRetention)
	return s.repo.DeleteStale(ctx, cutoff)
}
