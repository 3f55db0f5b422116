package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/metrics"
	"github.com/meridianbank/authrisk/internal/models"
)

// AnomalyStore defines the interface for anomaly detection persistence
type AnomalyStore interface {
	Create(ctx context.Context, detection *models.AnomalyDetection) (*models.AnomalyDetection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnomalyDetection, error)
	ListUnresolved(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error)
	Resolve(ctx context.Context, id, resolvedBy uuid.UUID) error
}

// attemptLedger is the slice of AttemptLedger the detector needs: velocity
// lookups and the single permitted ledger mutation.
type attemptLedger interface {
	RecentFailures(ctx context.Context, email string, window time.Duration) ([]*models.LoginAttempt, error)
	FlagAnomalous(ctx context.Context, attemptID uuid.UUID) error
}

// Default severities per detection rule.
const (
	severityNewDevice         = 5
	severityUntrustedDevice   = 2
	severityNewLocation       = 6
	severityUntrustedLocation = 3
	severityUnusualTime       = 3
	severityImpossibleTravel  = 9
	severityVelocity          = 7
)

// AnomalyService compares login attempts against the user's baseline and
// the global attempt stream. It appends to the detection and ledger tables
// and never touches rate limit state.
type AnomalyService struct {
	repo   AnomalyStore
	ledger attemptLedger
	config config.RiskConfig
	logger *slog.Logger
}

// NewAnomalyService creates a new AnomalyService
func NewAnomalyService(repo AnomalyStore, ledger attemptLedger, cfg config.RiskConfig, logger *slog.Logger) *AnomalyService {
	return &AnomalyService{
		repo:   repo,
		ledger: ledger,
		config: cfg,
		logger: logger,
	}
}

// Evaluate runs every detection rule independently and returns the ones
// that fired. A nil pattern (user's first login) skips the baseline rules;
// there is nothing to deviate from yet. Velocity always runs.
func (s *AnomalyService) Evaluate(ctx context.Context, attempt *models.LoginAttempt, pattern *models.UserLoginPattern) ([]models.Finding, error) {
	var findings []models.Finding

	if f, ok := s.evaluateDevice(attempt, pattern); ok {
		findings = append(findings, f)
	}
	if f, ok := s.evaluateLocation(attempt, pattern); ok {
		findings = append(findings, f)
	}
	if f, ok := s.evaluateTime(attempt, pattern); ok {
		findings = append(findings, f)
	}

	velocity, err := s.evaluateVelocity(ctx, attempt)
	if err != nil {
		return nil, err
	}
	if velocity != nil {
		findings = append(findings, *velocity)
	}

	return findings, nil
}

func (s *AnomalyService) evaluateDevice(attempt *models.LoginAttempt, pattern *models.UserLoginPattern) (models.Finding, bool) {
	if pattern == nil || attempt.DeviceFingerprint == "" {
		return models.Finding{}, false
	}

	count := pattern.DeviceCount(attempt.DeviceFingerprint)
	switch {
	case count == 0:
		return models.Finding{Type: models.AnomalyNewDevice, Severity: severityNewDevice}, true
	case count < s.config.TrustedThreshold:
		return models.Finding{Type: models.AnomalyNewDevice, Severity: severityUntrustedDevice}, true
	}
	return models.Finding{}, false
}

func (s *AnomalyService) evaluateLocation(attempt *models.LoginAttempt, pattern *models.UserLoginPattern) (models.Finding, bool) {
	loc := attempt.Location()
	if pattern == nil || loc.IsZero() {
		return models.Finding{}, false
	}

	count := pattern.LocationCount(loc)
	switch {
	case count == 0:
		if s.impossibleTravel(pattern, attempt) {
			return models.Finding{Type: models.AnomalyImpossibleTravel, Severity: severityImpossibleTravel}, true
		}
		return models.Finding{Type: models.AnomalyNewLocation, Severity: severityNewLocation}, true
	case count < s.config.TrustedThreshold:
		return models.Finding{Type: models.AnomalyNewLocation, Severity: severityUntrustedLocation}, true
	}
	return models.Finding{}, false
}

// impossibleTravel checks whether reaching the attempt's location from the
// last confirmed one would require implausible speed. With coordinates on
// both sides the great-circle speed is compared against the configured
// ceiling; without them, a country change inside the fallback gap counts.
func (s *AnomalyService) impossibleTravel(pattern *models.UserLoginPattern, attempt *models.LoginAttempt) bool {
	if pattern.LastLoginAt == nil {
		return false
	}

	elapsed := attempt.AttemptedAt.Sub(*pattern.LastLoginAt)
	if elapsed <= 0 {
		elapsed = time.Second
	}

	last := pattern.LastLocation()
	if last.Latitude != nil && last.Longitude != nil &&
		attempt.Latitude != nil && attempt.Longitude != nil {
		distanceKm := haversineKm(*last.Latitude, *last.Longitude, *attempt.Latitude, *attempt.Longitude)
		speedKmh := distanceKm / elapsed.Hours()
		return speedKmh > s.config.MaxTravelSpeedKmh
	}

	return last.Country != "" && attempt.Country != "" &&
		last.Country != attempt.Country &&
		elapsed < s.config.TravelFallbackGap
}

func (s *AnomalyService) evaluateTime(attempt *models.LoginAttempt, pattern *models.UserLoginPattern) (models.Finding, bool) {
	if pattern == nil {
		return models.Finding{}, false
	}
	if pattern.HourHistogram.Total() < s.config.MinHistogramSamples {
		return models.Finding{}, false
	}

	hour := attempt.AttemptedAt.UTC().Hour()
	if pattern.HourHistogram.Share(hour) < s.config.UnusualHourShare {
		return models.Finding{Type: models.AnomalyUnusualTime, Severity: severityUnusualTime}, true
	}
	return models.Finding{}, false
}

func (s *AnomalyService) evaluateVelocity(ctx context.Context, attempt *models.LoginAttempt) (*models.Finding, error) {
	failures, err := s.ledger.RecentFailures(ctx, attempt.Email, s.config.VelocityWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent failures: %w", err)
	}

	if len(failures) > s.config.VelocityThreshold {
		return &models.Finding{Type: models.AnomalyVelocity, Severity: severityVelocity}, nil
	}
	return nil, nil
}

// Score evaluates an attempt and persists one detection row per fired
// rule, flagging the ledger row anomalous. Returns the stored detections.
func (s *AnomalyService) Score(ctx context.Context, attempt *models.LoginAttempt, pattern *models.UserLoginPattern) ([]*models.AnomalyDetection, error) {
	start := time.Now()
	defer func() {
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}()

	findings, err := s.Evaluate(ctx, attempt, pattern)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return nil, nil
	}

	detections := make([]*models.AnomalyDetection, 0, len(findings))
	for _, finding := range findings {
		detection, err := s.repo.Create(ctx, &models.AnomalyDetection{
			AttemptID:   attempt.ID,
			UserID:      attempt.UserID,
			AnomalyType: finding.Type,
			Severity:    models.ClampSeverity(finding.Severity),
			DetectedAt:  time.Now(),
		})
		if err != nil {
			return detections, err
		}

		metrics.AnomaliesDetected.WithLabelValues(string(finding.Type)).Inc()
		detections = append(detections, detection)
	}

	if err := s.ledger.FlagAnomalous(ctx, attempt.ID); err != nil {
		s.logger.Error("failed to flag attempt as anomalous",
			slog.String("attempt_id", attempt.ID.String()),
			slog.Any("error", err))
	}

	return detections, nil
}

// MaxSeverity returns the highest severity across detections, 0 for none.
func MaxSeverity(detections []*models.AnomalyDetection) int {
	max := 0
	for _, d := range detections {
		if d.Severity > max {
			max = d.Severity
		}
	}
	return max
}

// Resolve marks a detection as reviewed by an operator.
func (s *AnomalyService) Resolve(ctx context.Context, anomalyID, operatorID uuid.UUID) error {
	if err := s.repo.Resolve(ctx, anomalyID, operatorID); err != nil {
		return err
	}

	s.logger.Info("anomaly resolved",
		slog.String("anomaly_id", anomalyID.String()),
		slog.String("resolved_by", operatorID.String()))
	return nil
}

// ListUnresolved returns open detections for the operator surface.
func (s *AnomalyService) ListUnresolved(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListUnresolved(ctx, limit, offset)
}

// ListForUser returns a user's detection history.
func (s *AnomalyService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
