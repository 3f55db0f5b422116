package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/models"
)

// PatternStore defines the interface for login pattern persistence
type PatternStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserLoginPattern, error)
	Create(ctx context.Context, pattern *models.UserLoginPattern) error
	Update(ctx context.Context, pattern *models.UserLoginPattern) error
}

const patternCacheSize = 4096

// PatternService owns the per-user behavioral baselines. It is the only
// writer: RecordSuccessfulLogin is the single write path, and the risk
// engine calls it only for successful, non-frozen attempts so failed or
// suspicious logins can never poison a baseline.
type PatternService struct {
	repo   PatternStore
	config config.RiskConfig
	cache  *lru.Cache[uuid.UUID, *models.UserLoginPattern]
	logger *slog.Logger
}

// NewPatternService creates a new PatternService
func NewPatternService(repo PatternStore, cfg config.RiskConfig, logger *slog.Logger) (*PatternService, error) {
	cache, err := lru.New[uuid.UUID, *models.UserLoginPattern](patternCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}

	return &PatternService{
		repo:   repo,
		config: cfg,
		cache:  cache,
		logger: logger,
	}, nil
}

// Get returns the user's baseline, or nil before the first successful
// login. Reads go through an LRU cache since every login scores against
// the baseline.
func (s *PatternService) Get(ctx context.Context, userID uuid.UUID) (*models.UserLoginPattern, error) {
	if pattern, ok := s.cache.Get(userID); ok {
		return pattern, nil
	}

	pattern, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load login pattern: %w", err)
	}

	s.cache.Add(userID, pattern)
	return pattern, nil
}

// RecordSuccessfulLogin folds one confirmed login into the baseline:
// device and location counts (bounded, least-recently-seen eviction), the
// hour-of-day histogram, and the last-known location used by the travel
// check. Lost update races are retried once against fresh state.
func (s *PatternService) RecordSuccessfulLogin(ctx context.Context, userID uuid.UUID, deviceFingerprint string, loc models.Location, at time.Time) error {
	for attempt := 0; attempt < 2; attempt++ {
		err := s.recordOnce(ctx, userID, deviceFingerprint, loc, at)
		if err == nil {
			s.cache.Remove(userID)
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) && !errors.Is(err, models.ErrConflict) {
			return err
		}
	}

	// Two lost races in a row; the next confirmed login will fold this
	// observation's signal in anyway.
	s.logger.Warn("dropping pattern update after losing concurrent races",
		slog.String("user_id", userID.String()))
	s.cache.Remove(userID)
	return nil
}

func (s *PatternService) recordOnce(ctx context.Context, userID uuid.UUID, deviceFingerprint string, loc models.Location, at time.Time) error {
	pattern, err := s.repo.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to load login pattern: %w", err)
	}

	creating := pattern == nil
	if creating {
		pattern = models.NewUserLoginPattern(userID)
	}

	if deviceFingerprint != "" {
		pattern.DeviceCounts.Observe(deviceFingerprint, at, s.config.MaxTrackedDevices)
	}
	if !loc.IsZero() {
		pattern.LocationCounts.Observe(loc.Key(), at, s.config.MaxTrackedPlaces)
		pattern.LastCountry = loc.Country
		pattern.LastRegion = loc.Region
		pattern.LastCity = loc.City
		pattern.LastLatitude = loc.Latitude
		pattern.LastLongitude = loc.Longitude
	}
	pattern.HourHistogram[at.UTC().Hour()]++
	lastLogin := at
	pattern.LastLoginAt = &lastLogin
	pattern.UpdatedAt = time.Now()

	if creating {
		return s.repo.Create(ctx, pattern)
	}
	return s.repo.Update(ctx, pattern)
}

// TrustedDevice reports whether the device has been seen often enough to
// suppress anomaly findings for it.
func (s *PatternService) TrustedDevice(pattern *models.UserLoginPattern, fingerprint string) bool {
	return pattern != nil && pattern.DeviceCount(fingerprint) >= s.config.TrustedThreshold
}

// TrustedLocation reports whether the location tuple is established in the
// baseline.
func (s *PatternService) TrustedLocation(pattern *models.UserLoginPattern, loc models.Location) bool {
	return pattern != nil && pattern.LocationCount(loc) >= s.config.TrustedThreshold
}
