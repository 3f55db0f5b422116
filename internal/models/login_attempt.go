package models

import (
	"time"

	"github.com/google/uuid"
)

// Location carries the coarse, best-effort geolocation supplied by the
// fingerprint provider. Coordinates are optional; when present they enable
// the travel-speed check, otherwise the detector falls back to country
// comparison.
type Location struct {
	Country   string   `json:"country"`
	Region    string   `json:"region"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Key returns the canonical location tuple used as a pattern map key.
func (l Location) Key() string {
	return l.Country + "|" + l.Region + "|" + l.City
}

// IsZero reports whether no location data was supplied at all.
func (l Location) IsZero() bool {
	return l.Country == "" && l.Region == "" && l.City == ""
}

// LoginAttempt is the immutable ledger record of one login attempt.
// The only permitted mutation after creation is setting Anomalous once,
// by the anomaly detector.
type LoginAttempt struct {
	ID                uuid.UUID  `db:"id"`
	UserID            *uuid.UUID `db:"user_id"` // nil when the email is unknown
	Email             string     `db:"email"`
	Success           bool       `db:"success"`
	IPAddress         string     `db:"ip_address"`
	UserAgent         string     `db:"user_agent"`
	DeviceFingerprint string     `db:"device_fingerprint"`
	Country           string     `db:"country"`
	Region            string     `db:"region"`
	City              string     `db:"city"`
	Latitude          *float64   `db:"latitude"`
	Longitude         *float64   `db:"longitude"`
	AttemptedAt       time.Time  `db:"attempted_at"`
	Anomalous         bool       `db:"anomalous"`
	ExpiresAt         time.Time  `db:"expires_at"`
}

// Location rebuilds the attempt's location tuple.
func (a *LoginAttempt) Location() Location {
	return Location{
		Country:   a.Country,
		Region:    a.Region,
		City:      a.City,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
	}
}
