package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity is the user-facing severity label derived from an anomaly's
// numeric severity score.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertSeverityFor maps a numeric anomaly severity to its label:
// Low <4, Medium 4-6, High 7-8, Critical >=9.
func AlertSeverityFor(severity int) AlertSeverity {
	switch {
	case severity >= 9:
		return AlertSeverityCritical
	case severity >= 7:
		return AlertSeverityHigh
	case severity >= 4:
		return AlertSeverityMedium
	default:
		return AlertSeverityLow
	}
}

// AlertStatus is the delivery state of a security alert.
//
// Pending -> Delivered -> (read), any state -> Failed on delivery error,
// any non-terminal state -> Expired once past ExpiresAt. Expired and Failed
// are terminal.
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "pending"
	AlertStatusDelivered AlertStatus = "delivered"
	AlertStatusFailed    AlertStatus = "failed"
	AlertStatusExpired   AlertStatus = "expired"
)

// Terminal reports whether no further status transitions are allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusExpired || s == AlertStatusFailed
}

// SecurityAlert is the user-facing notification derived from one or more
// anomaly detections.
type SecurityAlert struct {
	ID            uuid.UUID     `db:"id"`
	UserID        uuid.UUID     `db:"user_id"`
	AnomalyID     *uuid.UUID    `db:"anomaly_id"`
	Category      AnomalyType   `db:"category"`
	Severity      AlertSeverity `db:"severity"`
	SeverityScore int           `db:"severity_score"`
	Message       string        `db:"message"`
	Status        AlertStatus   `db:"status"`
	CreatedAt     time.Time     `db:"created_at"`
	ExpiresAt     time.Time     `db:"expires_at"`
	IsRead        bool          `db:"is_read"`
	ReadAt        *time.Time    `db:"read_at"`
	ActionTakenAt *time.Time    `db:"action_taken_at"`
}

// PastDue reports whether the alert's expiry has passed.
func (a *SecurityAlert) PastDue(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
