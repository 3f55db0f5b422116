package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/models"
)

// LoginInput is what the authentication flow reports about one login
// attempt after (or instead of, when blocked) credential validation.
type LoginInput struct {
	UserID            *uuid.UUID
	Email             string
	Success           bool
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          models.Location
}

// LoginDecision is the engine's verdict plus everything recorded about the
// attempt.
type LoginDecision struct {
	Allowed           bool
	RetryAfter        *time.Duration
	RemainingAttempts int
	Attempt           *models.LoginAttempt
	Detections        []*models.AnomalyDetection
	// ScoringComplete is false when anomaly scoring exceeded its budget or
	// failed; the attempt is recorded but its risk is unknown.
	ScoringComplete bool
}

// RiskEngine is the in-process entry point for the authentication flow.
// It runs the steps of an attempt in a fixed order: rate-limit check,
// ledger record, anomaly scoring, conditional pattern update, alert
// dispatch. The ledger write is the only step allowed to fail the call;
// everything downstream degrades with a logged warning because login
// availability outranks completeness of risk scoring.
type RiskEngine struct {
	rateLimits *RateLimitService
	ledger     *AttemptLedger
	patterns   *PatternService
	anomalies  *AnomalyService
	alerts     *AlertService
	config     config.RiskConfig
	logger     *slog.Logger
}

// NewRiskEngine creates a new RiskEngine
func NewRiskEngine(
	rateLimits *RateLimitService,
	ledger *AttemptLedger,
	patterns *PatternService,
	anomalies *AnomalyService,
	alerts *AlertService,
	cfg config.RiskConfig,
	logger *slog.Logger,
) *RiskEngine {
	return &RiskEngine{
		rateLimits: rateLimits,
		ledger:     ledger,
		patterns:   patterns,
		anomalies:  anomalies,
		alerts:     alerts,
		config:     cfg,
		logger:     logger,
	}
}

// ProcessLogin records and scores one login attempt. The client identifier
// for rate limiting is the IP address.
func (e *RiskEngine) ProcessLogin(ctx context.Context, input LoginInput) (*LoginDecision, error) {
	allowed, err := e.rateLimits.CanAttempt(ctx, input.IPAddress, models.AttemptTypeLogin)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Bookkeeping: failures here are recovered locally, never surfaced.
	if err := e.rateLimits.RecordAttempt(ctx, input.IPAddress, models.AttemptTypeLogin, input.Success); err != nil {
		e.logger.Warn("failed to record rate limit attempt",
			slog.String("client_id", input.IPAddress),
			slog.Any("error", err))
	}

	// Audit: the ledger write is contractual and is never skipped, even
	// for denied attempts.
	attempt, err := e.ledger.Record(ctx, RecordAttemptInput{
		UserID:            input.UserID,
		Email:             input.Email,
		Success:           input.Success,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: input.DeviceFingerprint,
		Location:          input.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt in ledger: %w", err)
	}

	decision := &LoginDecision{
		Allowed: allowed,
		Attempt: attempt,
	}
	e.fillLimitState(ctx, input.IPAddress, decision)

	detections, scored := e.score(ctx, attempt)
	decision.Detections = detections
	decision.ScoringComplete = scored

	// The baseline learns only from successful, non-blocked attempts that
	// scored below the freeze threshold; anything else could poison it.
	if input.Success && allowed && scored && input.UserID != nil &&
		MaxSeverity(detections) < e.config.PatternFreezeSeverity {
		err := e.patterns.RecordSuccessfulLogin(ctx, *input.UserID, attempt.DeviceFingerprint, attempt.Location(), attempt.AttemptedAt)
		if err != nil {
			e.logger.Warn("failed to update login pattern",
				slog.String("user_id", input.UserID.String()),
				slog.Any("error", err))
		}
	}

	for _, detection := range detections {
		if _, err := e.alerts.Dispatch(ctx, detection); err != nil {
			e.logger.Error("failed to dispatch security alert",
				slog.String("anomaly_id", detection.ID.String()),
				slog.Any("error", err))
		}
	}

	return decision, nil
}

// score runs anomaly detection within its time budget. A timeout or error
// degrades to "risk unknown" rather than blocking the login.
func (e *RiskEngine) score(ctx context.Context, attempt *models.LoginAttempt) ([]*models.AnomalyDetection, bool) {
	scoreCtx, cancel := context.WithTimeout(ctx, e.config.ScoringTimeout)
	defer cancel()

	var pattern *models.UserLoginPattern
	if attempt.UserID != nil {
		var err error
		pattern, err = e.patterns.Get(scoreCtx, *attempt.UserID)
		if err != nil {
			e.logger.Error("failed to load pattern for scoring",
				slog.String("user_id", attempt.UserID.String()),
				slog.Any("error", err))
			return nil, false
		}
	}

	detections, err := e.anomalies.Score(scoreCtx, attempt, pattern)
	if err != nil {
		// A corrupt baseline or scoring failure never blocks a login.
		e.logger.Error("anomaly scoring failed",
			slog.String("attempt_id", attempt.ID.String()),
			slog.Any("error", err))
		return detections, false
	}

	return detections, true
}

func (e *RiskEngine) fillLimitState(ctx context.Context, clientID string, decision *LoginDecision) {
	remaining, err := e.rateLimits.RemainingAttempts(ctx, clientID, models.AttemptTypeLogin)
	if err != nil {
		e.logger.Warn("failed to read remaining attempts", slog.Any("error", err))
	} else {
		decision.RemainingAttempts = remaining
	}

	if decision.Allowed {
		return
	}

	retryAfter, err := e.rateLimits.TimeUntilReset(ctx, clientID, models.AttemptTypeLogin)
	if err != nil {
		e.logger.Warn("failed to read time until reset", slog.Any("error", err))
		return
	}
	decision.RetryAfter = retryAfter
}

// RegistrationDecision is the engine's verdict on a registration attempt.
type RegistrationDecision struct {
	Allowed           bool
	RetryAfter        *time.Duration
	RemainingAttempts int
}

// CheckRegistration reports whether the client may attempt registration.
func (e *RiskEngine) CheckRegistration(ctx context.Context, clientID string) (*RegistrationDecision, error) {
	return e.checkOnly(ctx, clientID, models.AttemptTypeRegistration)
}

// CheckLogin reports whether the client may attempt a login, without
// recording anything. The authentication flow calls this before running
// credential validation.
func (e *RiskEngine) CheckLogin(ctx context.Context, clientID string) (*RegistrationDecision, error) {
	return e.checkOnly(ctx, clientID, models.AttemptTypeLogin)
}

func (e *RiskEngine) checkOnly(ctx context.Context, clientID string, attemptType models.AttemptType) (*RegistrationDecision, error) {
	allowed, err := e.rateLimits.CanAttempt(ctx, clientID, attemptType)
	if err != nil {
		return nil, err
	}

	decision := &RegistrationDecision{Allowed: allowed}

	remaining, err := e.rateLimits.RemainingAttempts(ctx, clientID, attemptType)
	if err == nil {
		decision.RemainingAttempts = remaining
	}

	if !allowed {
		if retryAfter, err := e.rateLimits.TimeUntilReset(ctx, clientID, attemptType); err == nil {
			decision.RetryAfter = retryAfter
		}
	}

	return decision, nil
}

// RecordRegistration records a registration attempt outcome. Registrations
// are rate limited but not scored; there is no account baseline to compare
// against.
func (e *RiskEngine) RecordRegistration(ctx context.Context, clientID string, success bool) error {
	if err := e.rateLimits.RecordAttempt(ctx, clientID, models.AttemptTypeRegistration, success); err != nil {
		if errors.Is(err, models.ErrBadRequest) || errors.Is(err, models.ErrUnknownAttemptType) {
			return err
		}
		e.logger.Warn("failed to record registration attempt",
			slog.String("client_id", clientID),
			slog.Any("error", err))
	}
	return nil
}
