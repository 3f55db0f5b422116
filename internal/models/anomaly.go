package models

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyType identifies which detection rule fired.
type AnomalyType string

const (
	AnomalyNewDevice        AnomalyType = "new_device"
	AnomalyNewLocation      AnomalyType = "new_location"
	AnomalyUnusualTime      AnomalyType = "unusual_time"
	AnomalyImpossibleTravel AnomalyType = "impossible_travel"
	AnomalyVelocity         AnomalyType = "velocity"
)

// Severity bounds for anomaly scores.
const (
	SeverityMin = 1
	SeverityMax = 10
)

// AnomalyDetection records one detection rule firing against one login
// attempt. Rows are never deleted; they form the audit trail for operator
// review.
type AnomalyDetection struct {
	ID          uuid.UUID   `db:"id"`
	AttemptID   uuid.UUID   `db:"attempt_id"`
	UserID      *uuid.UUID  `db:"user_id"`
	AnomalyType AnomalyType `db:"anomaly_type"`
	Severity    int         `db:"severity"`
	DetectedAt  time.Time   `db:"detected_at"`
	IsResolved  bool        `db:"is_resolved"`
	ResolvedBy  *uuid.UUID  `db:"resolved_by"`
	ResolvedAt  *time.Time  `db:"resolved_at"`
}

// Finding is an in-memory (type, severity) pair produced by the detector
// before persistence.
type Finding struct {
	Type     AnomalyType
	Severity int
}

// ClampSeverity bounds a severity score to the valid range.
func ClampSeverity(severity int) int {
	if severity < SeverityMin {
		return SeverityMin
	}
	if severity > SeverityMax {
		return SeverityMax
	}
	return severity
}
