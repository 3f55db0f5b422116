package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/handlers"
	"github.com/meridianbank/authrisk/internal/models"
	"github.com/meridianbank/authrisk/internal/services"
	pkghttp "github.com/meridianbank/authrisk/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRiskHandler(engine *handlers.MockRiskEngine) *handlers.RiskHandler {
	return handlers.NewRiskHandler(engine, &pkghttp.IPConfig{})
}

// ── RecordLoginAttempt tests ──────────────────────────────────────────────────

func TestRecordLoginAttempt_Allowed_ReturnsDecision(t *testing.T) {
	userID := uuid.New()
	attemptID := uuid.New()
	anomalyID := uuid.New()

	var seen services.LoginInput
	mock := &handlers.MockRiskEngine{
		ProcessLoginFunc: func(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error) {
			seen = input
			return &services.LoginDecision{
				Allowed:           true,
				RemainingAttempts: 4,
				Attempt:           &models.LoginAttempt{ID: attemptID},
				Detections: []*models.AnomalyDetection{
					{ID: anomalyID, AnomalyType: models.AnomalyNewDevice, Severity: 5},
				},
				ScoringComplete: true,
			}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		UserID:            userID.String(),
		Email:             "User@Example.COM",
		Success:           true,
		IPAddress:         "203.0.113.7",
		UserAgent:         "Mozilla/5.0",
		DeviceFingerprint: "device-abc",
	})
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	var resp handlers.LoginDecisionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)

	assert.True(t, resp.Allowed)
	assert.Equal(t, 4, resp.RemainingAttempts)
	assert.Equal(t, attemptID.String(), resp.AttemptID)
	assert.True(t, resp.ScoringComplete)
	require.Len(t, resp.Anomalies, 1)
	assert.Equal(t, "new_device", resp.Anomalies[0].Type)
	assert.Equal(t, 5, resp.Anomalies[0].Severity)

	// Email is normalized before the engine sees it.
	assert.Equal(t, "user@example.com", seen.Email)
	require.NotNil(t, seen.UserID)
	assert.Equal(t, userID, *seen.UserID)
	assert.Equal(t, "203.0.113.7", seen.IPAddress)
}

func TestRecordLoginAttempt_Blocked_Returns200WithRetryAfter(t *testing.T) {
	retryAfter := 17 * time.Minute
	mock := &handlers.MockRiskEngine{
		ProcessLoginFunc: func(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error) {
			return &services.LoginDecision{
				Allowed:           false,
				RetryAfter:        &retryAfter,
				RemainingAttempts: 0,
				Attempt:           &models.LoginAttempt{ID: uuid.New()},
			}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		Email:   "user@example.com",
		Success: false,
	})
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	var resp handlers.LoginDecisionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)

	assert.False(t, resp.Allowed)
	assert.Equal(t, 0, resp.RemainingAttempts)
	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Equal(t, int64(17*60), *resp.RetryAfterSeconds)
}

func TestRecordLoginAttempt_MissingEmail_Returns400(t *testing.T) {
	h := newRiskHandler(&handlers.MockRiskEngine{})

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		Success: true,
	})
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRecordLoginAttempt_InvalidUserID_Returns400(t *testing.T) {
	h := newRiskHandler(&handlers.MockRiskEngine{})

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		UserID: "not-a-uuid",
		Email:  "user@example.com",
	})
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRecordLoginAttempt_EngineFailure_Returns500(t *testing.T) {
	mock := &handlers.MockRiskEngine{
		ProcessLoginFunc: func(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error) {
			return nil, errors.New("database down")
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		Email: "user@example.com",
	})
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}

func TestRecordLoginAttempt_FallsBackToConnectionAddress(t *testing.T) {
	var seen services.LoginInput
	mock := &handlers.MockRiskEngine{
		ProcessLoginFunc: func(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error) {
			seen = input
			return &services.LoginDecision{Allowed: true, Attempt: &models.LoginAttempt{ID: uuid.New()}}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/login", handlers.LoginAttemptRequest{
		Email: "user@example.com",
	})
	req.RemoteAddr = "198.51.100.9:41234"
	req.Header.Set("User-Agent", "curl/8.0")
	w := httptest.NewRecorder()
	h.RecordLoginAttempt(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "198.51.100.9", seen.IPAddress)
	assert.Equal(t, "curl/8.0", seen.UserAgent)
}

// ── Limit check tests ─────────────────────────────────────────────────────────

func TestCheckLoginLimit_Allowed(t *testing.T) {
	mock := &handlers.MockRiskEngine{
		CheckLoginFunc: func(ctx context.Context, clientID string) (*services.RegistrationDecision, error) {
			assert.Equal(t, "203.0.113.7", clientID)
			return &services.RegistrationDecision{Allowed: true, RemainingAttempts: 5}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "GET", "/v1/limits/login?client_id=203.0.113.7", nil)
	w := httptest.NewRecorder()
	h.CheckLoginLimit(w, req)

	var resp handlers.LimitCheckResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Allowed)
	assert.Equal(t, 5, resp.RemainingAttempts)
	assert.Nil(t, resp.RetryAfterSeconds)
}

func TestCheckLoginLimit_Blocked_Returns429WithHeader(t *testing.T) {
	retryAfter := 12 * time.Minute
	mock := &handlers.MockRiskEngine{
		CheckLoginFunc: func(ctx context.Context, clientID string) (*services.RegistrationDecision, error) {
			return &services.RegistrationDecision{Allowed: false, RetryAfter: &retryAfter}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "GET", "/v1/limits/login?client_id=203.0.113.7", nil)
	w := httptest.NewRecorder()
	h.CheckLoginLimit(w, req)

	var resp handlers.LimitCheckResponse
	handlers.AssertJSONResponse(t, w, 429, &resp)
	assert.False(t, resp.Allowed)
	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Equal(t, int64(12*60), *resp.RetryAfterSeconds)
	assert.Equal(t, "720", w.Header().Get("Retry-After"))
}

func TestCheckRegistrationLimit_UsesConnectionAddressByDefault(t *testing.T) {
	mock := &handlers.MockRiskEngine{
		CheckRegistrationFunc: func(ctx context.Context, clientID string) (*services.RegistrationDecision, error) {
			assert.Equal(t, "198.51.100.9", clientID)
			return &services.RegistrationDecision{Allowed: true, RemainingAttempts: 5}, nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "GET", "/v1/limits/registration", nil)
	req.RemoteAddr = "198.51.100.9:41234"
	w := httptest.NewRecorder()
	h.CheckRegistrationLimit(w, req)

	assert.Equal(t, 200, w.Code)
}

// ── RecordRegistrationAttempt tests ───────────────────────────────────────────

func TestRecordRegistrationAttempt_Success_Returns204(t *testing.T) {
	called := false
	mock := &handlers.MockRiskEngine{
		RecordRegistrationFunc: func(ctx context.Context, clientID string, success bool) error {
			called = true
			assert.Equal(t, "203.0.113.7", clientID)
			assert.False(t, success)
			return nil
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/registration", handlers.RegistrationAttemptRequest{
		ClientID: "203.0.113.7",
		Success:  false,
	})
	w := httptest.NewRecorder()
	h.RecordRegistrationAttempt(w, req)

	assert.Equal(t, 204, w.Code)
	assert.True(t, called, "RecordRegistration should be called")
}

func TestRecordRegistrationAttempt_InvalidClientID_Returns400(t *testing.T) {
	h := newRiskHandler(&handlers.MockRiskEngine{})

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/registration", handlers.RegistrationAttemptRequest{
		ClientID: "not-an-ip",
		Success:  true,
	})
	w := httptest.NewRecorder()
	h.RecordRegistrationAttempt(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRecordRegistrationAttempt_EngineRejects_Returns400(t *testing.T) {
	mock := &handlers.MockRiskEngine{
		RecordRegistrationFunc: func(ctx context.Context, clientID string, success bool) error {
			return models.ErrBadRequest
		},
	}
	h := newRiskHandler(mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/attempts/registration", handlers.RegistrationAttemptRequest{
		ClientID: "203.0.113.7",
	})
	w := httptest.NewRecorder()
	h.RecordRegistrationAttempt(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
