package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/metrics"
	"github.com/meridianbank/authrisk/internal/models"
)

// AlertStore defines the interface for security alert persistence
type AlertStore interface {
	CreateOrMerge(ctx context.Context, alert *models.SecurityAlert, dedupSince time.Time) (*models.SecurityAlert, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error)
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error)
	MarkRead(ctx context.Context, alertID, userID uuid.UUID) error
	MarkActionTaken(ctx context.Context, alertID, userID uuid.UUID) error
	UpdateStatus(ctx context.Context, alertID uuid.UUID, status models.AlertStatus) error
	ListPendingDelivery(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// Notifier hands a dispatched alert to the delivery subsystem. Delivery
// outcome feeds back into the alert's status.
type Notifier interface {
	Notify(ctx context.Context, alert *models.SecurityAlert) error
}

// AlertService converts anomaly detections into user-facing security
// alerts: severity labels, expiry, one-hour same-type deduplication, and
// the Pending/Delivered/Failed/Expired status machine.
type AlertService struct {
	repo     AlertStore
	notifier Notifier // nil when delivery is disabled
	config   config.AlertConfig
	logger   *slog.Logger
}

// NewAlertService creates a new AlertService
func NewAlertService(repo AlertStore, notifier Notifier, cfg config.AlertConfig, logger *slog.Logger) *AlertService {
	return &AlertService{
		repo:     repo,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

var alertMessages = map[models.AnomalyType]string{
	models.AnomalyNewDevice:        "A sign-in to your account came from a device we haven't seen before.",
	models.AnomalyNewLocation:      "A sign-in to your account came from a new location.",
	models.AnomalyUnusualTime:      "Your account was accessed at an unusual time of day.",
	models.AnomalyImpossibleTravel: "Your account was accessed from a location inconsistent with your recent activity.",
	models.AnomalyVelocity:         "There were repeated failed sign-in attempts on your account.",
}

// Dispatch turns one detection into a security alert, merging into an
// existing undelivered or unread alert of the same type from the dedup
// window instead of duplicating it. Detections without a resolved user
// (unknown email) have nobody to notify and produce no alert.
func (s *AlertService) Dispatch(ctx context.Context, detection *models.AnomalyDetection) (*models.SecurityAlert, error) {
	if detection.UserID == nil {
		return nil, nil
	}

	message, ok := alertMessages[detection.AnomalyType]
	if !ok {
		message = "Suspicious activity was detected on your account."
	}

	now := time.Now()
	expiry := s.config.DefaultExpiry
	severity := models.AlertSeverityFor(detection.Severity)
	if severity == models.AlertSeverityCritical {
		expiry = s.config.CriticalExpiry
	}

	anomalyID := detection.ID
	alert := &models.SecurityAlert{
		UserID:        *detection.UserID,
		AnomalyID:     &anomalyID,
		Category:      detection.AnomalyType,
		Severity:      severity,
		SeverityScore: detection.Severity,
		Message:       message,
		Status:        models.AlertStatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(expiry),
	}

	stored, merged, err := s.repo.CreateOrMerge(ctx, alert, now.Add(-s.config.DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch alert: %w", err)
	}

	if merged {
		metrics.AlertsDeduplicated.Inc()
	} else {
		metrics.AlertsDispatched.WithLabelValues(string(stored.Severity)).Inc()
	}

	s.logger.Info("security alert dispatched",
		slog.String("alert_id", stored.ID.String()),
		slog.String("user_id", stored.UserID.String()),
		slog.String("category", string(stored.Category)),
		slog.String("severity", string(stored.Severity)),
		slog.Bool("merged", merged))

	return stored, nil
}

// MarkRead acknowledges an alert for the owning user. Idempotent.
func (s *AlertService) MarkRead(ctx context.Context, alertID, userID uuid.UUID) error {
	return s.repo.MarkRead(ctx, alertID, userID)
}

// MarkActionTaken records that the user acted on the alert; it also marks
// the alert read. Idempotent.
func (s *AlertService) MarkActionTaken(ctx context.Context, alertID, userID uuid.UUID) error {
	return s.repo.MarkActionTaken(ctx, alertID, userID)
}

// ListForUser returns a user's alerts, excluding expired ones unless asked.
func (s *AlertService) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, userID, unreadOnly, includeExpired, limit)
}

// DeliverPending pushes pending alerts to the notifier and records the
// outcome. Runs from the background sweeper; a nil notifier leaves alerts
// pending for an external delivery subsystem to drain.
func (s *AlertService) DeliverPending(ctx context.Context, batchSize int) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}

	pending, err := s.repo.ListPendingDelivery(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	delivered := 0
	for _, alert := range pending {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.Error("alert delivery failed",
				slog.String("alert_id", alert.ID.String()),
				slog.Any("error", err))
			if statusErr := s.repo.UpdateStatus(ctx, alert.ID, models.AlertStatusFailed); statusErr != nil {
				s.logger.Error("failed to record delivery failure",
					slog.String("alert_id", alert.ID.String()),
					slog.Any("error", statusErr))
			}
			continue
		}

		if err := s.repo.UpdateStatus(ctx, alert.ID, models.AlertStatusDelivered); err != nil {
			s.logger.Error("failed to record delivery",
				slog.String("alert_id", alert.ID.String()),
				slog.Any("error", err))
			continue
		}
		delivered++
	}

	return delivered, nil
}

// MarkDelivered is the callback for an external delivery subsystem.
func (s *AlertService) MarkDelivered(ctx context.Context, alertID uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, alertID, models.AlertStatusDelivered)
}

// MarkDeliveryFailed is the failure callback for an external delivery
// subsystem.
func (s *AlertService) MarkDeliveryFailed(ctx context.Context, alertID uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, alertID, models.AlertStatusFailed)
}

// SweepExpired transitions past-due alerts to expired. Idempotent; runs
// from the background sweeper.
func (s *AlertService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired alerts: %w", err)
	}

	if count > 0 {
		s.logger.Info("expired security alerts swept", slog.Int64("count", count))
	}
	return count, nil
}
