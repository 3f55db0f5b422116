package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptType distinguishes which authentication flow an attempt belongs to.
// Each type gets its own rate-limit counters per client.
type AttemptType string

const (
	AttemptTypeRegistration AttemptType = "registration"
	AttemptTypeLogin        AttemptType = "login"
)

// Valid reports whether t is one of the known attempt types.
func (t AttemptType) Valid() bool {
	return t == AttemptTypeRegistration || t == AttemptTypeLogin
}

// RateLimitEntry is the durable per-(client, attempt type) counter row.
// Concurrent writers race on the same row, so every update is conditional
// on Version (see RateLimitRepository.Update).
type RateLimitEntry struct {
	ID           uuid.UUID   `db:"id"`
	ClientID     string      `db:"client_id"`
	AttemptType  AttemptType `db:"attempt_type"`
	AttemptCount int         `db:"attempt_count"`
	SuccessCount int         `db:"success_count"`
	FailureCount int         `db:"failure_count"`
	FirstAttempt time.Time   `db:"first_attempt_at"`
	LastAttempt  time.Time   `db:"last_attempt_at"`
	Blocked      bool        `db:"blocked"`
	BlockedUntil *time.Time  `db:"blocked_until"`
	BlockReason  *string     `db:"block_reason"`
	Version      int64       `db:"version"`
}

// WindowExpired reports whether the counting window that started at
// FirstAttempt has elapsed at the given instant.
func (e *RateLimitEntry) WindowExpired(now time.Time, window time.Duration) bool {
	return !now.Before(e.FirstAttempt.Add(window))
}

// BlockActive reports whether the entry is blocked at the given instant.
func (e *RateLimitEntry) BlockActive(now time.Time) bool {
	return e.Blocked && e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}
