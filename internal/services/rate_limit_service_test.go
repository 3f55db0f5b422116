package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/meridianbank/authrisk/internal/config"
	"github.com/meridianbank/authrisk/internal/models"
	"github.com/meridianbank/authrisk/internal/services"
	"github.com/stretchr/testify/assert"
)

// MockRateLimitStore implements RateLimitStore for testing
type MockRateLimitStore struct {
	entries map[string]*models.RateLimitEntry

	// conflictsLeft makes the next N Update calls fail with a version
	// conflict, simulating concurrent writers
	conflictsLeft int
	updateCalls   int
}

func NewMockRateLimitStore() *MockRateLimitStore {
	return &MockRateLimitStore{
		entries: make(map[string]*models.RateLimitEntry),
	}
}

func storeKey(clientID string, attemptType models.AttemptType) string {
	return clientID + "|" + string(attemptType)
}

func (m *MockRateLimitStore) Get(ctx context.Context, clientID string, attemptType models.AttemptType) (*models.RateLimitEntry, error) {
	entry, ok := m.entries[storeKey(clientID, attemptType)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *MockRateLimitStore) Create(ctx context.Context, entry *models.RateLimitEntry) error {
	key := storeKey(entry.ClientID, entry.AttemptType)
	if _, ok := m.entries[key]; ok {
		return models.ErrConflict
	}
	copied := *entry
	m.entries[key] = &copied
	return nil
}

func (m *MockRateLimitStore) Update(ctx context.Context, entry *models.RateLimitEntry) error {
	m.updateCalls++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return models.ErrVersionConflict
	}
	copied := *entry
	copied.Version++
	m.entries[storeKey(entry.ClientID, entry.AttemptType)] = &copied
	entry.Version = copied.Version
	return nil
}

func (m *MockRateLimitStore) Delete(ctx context.Context, clientID string, attemptType models.AttemptType) error {
	delete(m.entries, storeKey(clientID, attemptType))
	return nil
}

func (m *MockRateLimitStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	for key, entry := range m.entries {
		if entry.LastAttempt.Before(before) && !entry.BlockActive(time.Now()) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxFailedAttempts: 5,
		AttemptWindow:     15 * time.Minute,
		BlockDuration:     30 * time.Minute,
		RecordRetries:     3,
		RetryBackoff:      time.Millisecond,
		EntryRetention:    24 * time.Hour,
	}
}

func newRateLimitService(store *MockRateLimitStore) *services.RateLimitService {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return services.NewRateLimitService(store, testRiskConfig(), logger)
}

func TestRateLimitServiceCanAttempt_AllowsUnknownClient(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	allowed, err := service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)

	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitServiceCanAttempt_RejectsInvalidKey(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	_, err := service.CanAttempt(ctx, "", models.AttemptTypeLogin)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = service.CanAttempt(ctx, "192.168.1.1", models.AttemptType("password_reset"))
	assert.ErrorIs(t, err, models.ErrUnknownAttemptType)
}

func TestRateLimitServiceRecordAttempt_BlocksAfterMaxFailures(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)
		assert.NoError(t, err)
		assert.True(t, allowed, "attempt %d should be allowed", i+1)

		assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))
	}

	allowed, err := service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.False(t, allowed)

	retryAfter, err := service.TimeUntilReset(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.NotNil(t, retryAfter)
	assert.InDelta(t, (30 * time.Minute).Seconds(), retryAfter.Seconds(), 5)
}

func TestRateLimitServiceRecordAttempt_MaintainsCountInvariant(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	assert.NoError(t, service.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, false))
	assert.NoError(t, service.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, true))
	assert.NoError(t, service.RecordAttempt(ctx, "10.0.0.1", models.AttemptTypeLogin, false))

	entry, err := store.Get(ctx, "10.0.0.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Equal(t, 1, entry.SuccessCount)
	assert.Equal(t, 2, entry.FailureCount)
	assert.Equal(t, entry.AttemptCount, entry.SuccessCount+entry.FailureCount)
}

func TestRateLimitServiceRecordAttempt_SeparatesAttemptTypes(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeRegistration, false))
	}

	allowed, err := service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeRegistration)
	assert.NoError(t, err)
	assert.False(t, allowed)

	// The same client's login flow is unaffected
	allowed, err = service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitServiceRecordAttempt_WindowRolloverResetsCounts(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	// Seed an entry whose window has already elapsed
	stale := &models.RateLimitEntry{
		ClientID:     "192.168.1.1",
		AttemptType:  models.AttemptTypeLogin,
		AttemptCount: 4,
		FailureCount: 4,
		FirstAttempt: time.Now().Add(-16 * time.Minute),
		LastAttempt:  time.Now().Add(-16 * time.Minute),
	}
	assert.NoError(t, store.Create(ctx, stale))

	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	entry, err := store.Get(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 1, entry.AttemptCount)
	assert.Equal(t, 1, entry.FailureCount)
	assert.False(t, entry.Blocked)
}

func TestRateLimitServiceRecordAttempt_IgnoresSuccessDuringBlock(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	until := time.Now().Add(30 * time.Minute)
	reason := "5 failed login attempts within 15m0s"
	blocked := &models.RateLimitEntry{
		ClientID:     "192.168.1.1",
		AttemptType:  models.AttemptTypeLogin,
		AttemptCount: 5,
		FailureCount: 5,
		FirstAttempt: time.Now().Add(-5 * time.Minute),
		LastAttempt:  time.Now(),
		Blocked:      true,
		BlockedUntil: &until,
		BlockReason:  &reason,
	}
	assert.NoError(t, store.Create(ctx, blocked))

	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, true))

	entry, err := store.Get(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 5, entry.AttemptCount)
	assert.Equal(t, 0, entry.SuccessCount)
	assert.True(t, entry.Blocked)
}

func TestRateLimitServiceRecordAttempt_RetriesVersionConflicts(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	store.conflictsLeft = 2
	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	entry, err := store.Get(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 2, entry.FailureCount)
}

func TestRateLimitServiceRecordAttempt_FailsOpenAfterRetryExhaustion(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	// More conflicts than the retry budget: the update is dropped, not
	// surfaced
	store.conflictsLeft = 10
	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	entry, err := store.Get(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 1, entry.FailureCount)
}

func TestRateLimitServiceRemainingAttempts_CountsDown(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	remaining, err := service.RemainingAttempts(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 5, remaining)

	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))
	assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))

	remaining, err = service.RemainingAttempts(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimitServiceReset_UnblocksClient(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, service.RecordAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin, false))
	}

	allowed, err := service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.False(t, allowed)

	assert.NoError(t, service.Reset(ctx, "192.168.1.1", models.AttemptTypeLogin))

	allowed, err = service.CanAttempt(ctx, "192.168.1.1", models.AttemptTypeLogin)
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitServiceCleanupStale_KeepsBlockedEntries(t *testing.T) {
	store := NewMockRateLimitStore()
	service := newRateLimitService(store)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	assert.NoError(t, store.Create(ctx, &models.RateLimitEntry{
		ClientID:     "10.0.0.1",
		AttemptType:  models.AttemptTypeLogin,
		FirstAttempt: old,
		LastAttempt:  old,
	}))

	until := time.Now().Add(10 * time.Minute)
	assert.NoError(t, store.Create(ctx, &models.RateLimitEntry{
		ClientID:     "10.0.0.2",
		AttemptType:  models.AttemptTypeLogin,
		FirstAttempt: old,
		LastAttempt:  old,
		Blocked:      true,
		BlockedUntil: &until,
	}))

	removed, err := service.CleanupStale(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, "10.0.0.2", models.AttemptTypeLogin)
	assert.NoError(t, err)
}
