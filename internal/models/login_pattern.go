package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SeenStat tracks how often and how recently a device or location has
// appeared in a user's successful logins.
type SeenStat struct {
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// SeenCounts is a bounded map of device fingerprints or location tuples to
// their observation stats, persisted as JSONB.
type SeenCounts map[string]SeenStat

// Scan implements sql.Scanner for JSONB
func (sc *SeenCounts) Scan(value interface{}) error {
	if value == nil {
		*sc = make(SeenCounts)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]SeenStat
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*sc = SeenCounts(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (sc SeenCounts) Value() (driver.Value, error) {
	if sc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(sc)
}

// Observe increments the stat for key, evicting the least-recently-seen
// entry when the map would exceed maxEntries. Prevents unbounded growth for
// long-lived accounts.
func (sc SeenCounts) Observe(key string, at time.Time, maxEntries int) {
	stat, exists := sc[key]
	if !exists && len(sc) >= maxEntries {
		var oldest string
		var oldestSeen time.Time
		for k, s := range sc {
			if oldest == "" || s.LastSeen.Before(oldestSeen) {
				oldest = k
				oldestSeen = s.LastSeen
			}
		}
		delete(sc, oldest)
	}
	stat.Count++
	stat.LastSeen = at
	sc[key] = stat
}

// HourHistogram counts successful logins per hour of day (UTC), persisted
// as a JSONB array of 24 buckets.
type HourHistogram [24]int

// Scan implements sql.Scanner for JSONB
func (h *HourHistogram) Scan(value interface{}) error {
	if value == nil {
		*h = HourHistogram{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	return json.Unmarshal(bytes, h)
}

// Value implements driver.Valuer for JSONB
func (h HourHistogram) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// Total returns the number of samples across all buckets.
func (h HourHistogram) Total() int {
	total := 0
	for _, n := range h {
		total += n
	}
	return total
}

// Share returns the fraction of samples falling in the given hour bucket.
// Returns 0 for an empty histogram.
func (h HourHistogram) Share(hour int) float64 {
	total := h.Total()
	if total == 0 {
		return 0
	}
	return float64(h[hour]) / float64(total)
}

// UserLoginPattern is a user's rolling behavioral baseline, built only from
// successful, low-severity logins. The anomaly detector is its sole writer.
type UserLoginPattern struct {
	UserID         uuid.UUID     `db:"user_id"`
	DeviceCounts   SeenCounts    `db:"device_counts"`
	LocationCounts SeenCounts    `db:"location_counts"`
	HourHistogram  HourHistogram `db:"hour_histogram"`
	LastCountry    string        `db:"last_country"`
	LastRegion     string        `db:"last_region"`
	LastCity       string        `db:"last_city"`
	LastLatitude   *float64      `db:"last_latitude"`
	LastLongitude  *float64      `db:"last_longitude"`
	LastLoginAt    *time.Time    `db:"last_login_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
	Version        int64         `db:"version"`
}

// NewUserLoginPattern creates an empty baseline for a user's first
// successful login.
func NewUserLoginPattern(userID uuid.UUID) *UserLoginPattern {
	return &UserLoginPattern{
		UserID:         userID,
		DeviceCounts:   make(SeenCounts),
		LocationCounts: make(SeenCounts),
	}
}

// DeviceCount returns how many times the device has been seen.
func (p *UserLoginPattern) DeviceCount(fingerprint string) int {
	return p.DeviceCounts[fingerprint].Count
}

// LocationCount returns how many times the location tuple has been seen.
func (p *UserLoginPattern) LocationCount(loc Location) int {
	return p.LocationCounts[loc.Key()].Count
}

// LastLocation returns the location of the most recent successful login
// recorded into the baseline.
func (p *UserLoginPattern) LastLocation() Location {
	return Location{
		Country:   p.LastCountry,
		Region:    p.LastRegion,
		City:      p.LastCity,
		Latitude:  p.LastLatitude,
		Longitude: p.LastLongitude,
	}
}
