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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminHandler(anomalies *handlers.MockAnomalyService, alerts *handlers.MockAlertService, limits *handlers.MockLimitAdmin) *handlers.AdminHandler {
	if anomalies == nil {
		anomalies = &handlers.MockAnomalyService{}
	}
	if alerts == nil {
		alerts = &handlers.MockAlertService{}
	}
	if limits == nil {
		limits = &handlers.MockLimitAdmin{}
	}
	return handlers.NewAdminHandler(anomalies, alerts, limits)
}

// ── Anomaly review tests ──────────────────────────────────────────────────────

func TestListUnresolvedAnomalies_ReturnsDetections(t *testing.T) {
	userID := uuid.New()
	detection := &models.AnomalyDetection{
		ID:          uuid.New(),
		AttemptID:   uuid.New(),
		UserID:      &userID,
		AnomalyType: models.AnomalyImpossibleTravel,
		Severity:    9,
		DetectedAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	mock := &handlers.MockAnomalyService{
		ListUnresolvedFunc: func(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error) {
			assert.Equal(t, 50, limit)
			assert.Equal(t, 0, offset)
			return []*models.AnomalyDetection{detection}, nil
		},
	}
	h := newAdminHandler(mock, nil, nil)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/anomalies", nil)
	w := httptest.NewRecorder()
	h.ListUnresolvedAnomalies(w, req)

	var resp []handlers.AnomalyResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, detection.ID.String(), resp[0].ID)
	assert.Equal(t, "impossible_travel", resp[0].Type)
	assert.Equal(t, 9, resp[0].Severity)
	require.NotNil(t, resp[0].UserID)
	assert.Equal(t, userID.String(), *resp[0].UserID)
	assert.False(t, resp[0].IsResolved)
}

func TestListUnresolvedAnomalies_PaginationParams(t *testing.T) {
	mock := &handlers.MockAnomalyService{
		ListUnresolvedFunc: func(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error) {
			assert.Equal(t, 10, limit)
			assert.Equal(t, 20, offset)
			return []*models.AnomalyDetection{}, nil
		},
	}
	h := newAdminHandler(mock, nil, nil)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/anomalies?limit=10&offset=20", nil)
	w := httptest.NewRecorder()
	h.ListUnresolvedAnomalies(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestListUserAnomalies_InvalidUserID_Returns400(t *testing.T) {
	h := newAdminHandler(nil, nil, nil)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/users/abc/anomalies", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": "abc"})
	w := httptest.NewRecorder()
	h.ListUserAnomalies(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestResolveAnomaly_Success_Returns204(t *testing.T) {
	anomalyID := uuid.New()
	operatorID := uuid.New()

	called := false
	mock := &handlers.MockAnomalyService{
		ResolveFunc: func(ctx context.Context, id, opID uuid.UUID) error {
			called = true
			assert.Equal(t, anomalyID, id)
			assert.Equal(t, operatorID, opID)
			return nil
		},
	}
	h := newAdminHandler(mock, nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/anomalies/"+anomalyID.String()+"/resolve", handlers.ResolveAnomalyRequest{
		ResolvedBy: operatorID.String(),
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"anomalyID": anomalyID.String()})
	w := httptest.NewRecorder()
	h.ResolveAnomaly(w, req)

	assert.Equal(t, 204, w.Code)
	assert.True(t, called, "Resolve should be called")
}

func TestResolveAnomaly_NotFound_Returns404(t *testing.T) {
	mock := &handlers.MockAnomalyService{
		ResolveFunc: func(ctx context.Context, id, opID uuid.UUID) error {
			return models.ErrNotFound
		},
	}
	h := newAdminHandler(mock, nil, nil)

	anomalyID := uuid.New()
	req := handlers.NewTestRequest(t, "POST", "/v1/admin/anomalies/"+anomalyID.String()+"/resolve", handlers.ResolveAnomalyRequest{
		ResolvedBy: uuid.New().String(),
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"anomalyID": anomalyID.String()})
	w := httptest.NewRecorder()
	h.ResolveAnomaly(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestResolveAnomaly_MissingResolvedBy_Returns400(t *testing.T) {
	h := newAdminHandler(nil, nil, nil)

	anomalyID := uuid.New()
	req := handlers.NewTestRequest(t, "POST", "/v1/admin/anomalies/"+anomalyID.String()+"/resolve", handlers.ResolveAnomalyRequest{})
	req = handlers.WithChiRouteContext(req, map[string]string{"anomalyID": anomalyID.String()})
	w := httptest.NewRecorder()
	h.ResolveAnomaly(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

// ── Alert management tests ────────────────────────────────────────────────────

func TestListUserAlerts_ForwardsQueryFlags(t *testing.T) {
	userID := uuid.New()
	alert := &models.SecurityAlert{
		ID:            uuid.New(),
		UserID:        userID,
		Category:      models.AnomalyNewDevice,
		Severity:      models.AlertSeverityMedium,
		SeverityScore: 5,
		Message:       "Sign-in from a new device",
		Status:        models.AlertStatusDelivered,
		CreatedAt:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		ExpiresAt:     time.Date(2026, 4, 9, 9, 0, 0, 0, time.UTC),
	}
	mock := &handlers.MockAlertService{
		ListForUserFunc: func(ctx context.Context, id uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error) {
			assert.Equal(t, userID, id)
			assert.True(t, unreadOnly)
			assert.True(t, includeExpired)
			assert.Equal(t, 25, limit)
			return []*models.SecurityAlert{alert}, nil
		},
	}
	h := newAdminHandler(nil, mock, nil)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/users/"+userID.String()+"/alerts?unread_only=true&include_expired=true&limit=25", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	h.ListUserAlerts(w, req)

	var resp []handlers.AlertResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "new_device", resp[0].Category)
	assert.Equal(t, "medium", resp[0].Severity)
	assert.Equal(t, "delivered", resp[0].Status)
}

func TestMarkAlertRead_Success_Returns204(t *testing.T) {
	userID := uuid.New()
	alertID := uuid.New()

	mock := &handlers.MockAlertService{
		MarkReadFunc: func(ctx context.Context, aID, uID uuid.UUID) error {
			assert.Equal(t, alertID, aID)
			assert.Equal(t, userID, uID)
			return nil
		},
	}
	h := newAdminHandler(nil, mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/users/"+userID.String()+"/alerts/"+alertID.String()+"/read", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{
		"userID":  userID.String(),
		"alertID": alertID.String(),
	})
	w := httptest.NewRecorder()
	h.MarkAlertRead(w, req)

	assert.Equal(t, 204, w.Code)
}

func TestMarkAlertActionTaken_UnknownAlert_Returns404(t *testing.T) {
	mock := &handlers.MockAlertService{
		MarkActionTakenFunc: func(ctx context.Context, aID, uID uuid.UUID) error {
			return models.ErrNotFound
		},
	}
	h := newAdminHandler(nil, mock, nil)

	userID := uuid.New()
	alertID := uuid.New()
	req := handlers.NewTestRequest(t, "POST", "/v1/admin/users/"+userID.String()+"/alerts/"+alertID.String()+"/action", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{
		"userID":  userID.String(),
		"alertID": alertID.String(),
	})
	w := httptest.NewRecorder()
	h.MarkAlertActionTaken(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestDeliverPendingAlerts_ReturnsCount(t *testing.T) {
	mock := &handlers.MockAlertService{
		DeliverPendingFunc: func(ctx context.Context, batchSize int) (int, error) {
			assert.Equal(t, 50, batchSize)
			return 7, nil
		},
	}
	h := newAdminHandler(nil, mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/alerts/deliver?batch=50", nil)
	w := httptest.NewRecorder()
	h.DeliverPendingAlerts(w, req)

	var resp map[string]int
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 7, resp["delivered"])
}

func TestSweepExpiredAlerts_ReturnsCount(t *testing.T) {
	mock := &handlers.MockAlertService{
		SweepExpiredFunc: func(ctx context.Context) (int64, error) {
			return 12, nil
		},
	}
	h := newAdminHandler(nil, mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/alerts/sweep", nil)
	w := httptest.NewRecorder()
	h.SweepExpiredAlerts(w, req)

	var resp map[string]int64
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, int64(12), resp["expired"])
}

// ── Rate limit override tests ─────────────────────────────────────────────────

func TestResetLimit_Success_Returns204(t *testing.T) {
	called := false
	mock := &handlers.MockLimitAdmin{
		ResetFunc: func(ctx context.Context, clientID string, attemptType models.AttemptType) error {
			called = true
			assert.Equal(t, "203.0.113.7", clientID)
			assert.Equal(t, models.AttemptTypeLogin, attemptType)
			return nil
		},
	}
	h := newAdminHandler(nil, nil, mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/limits/reset", handlers.ResetLimitRequest{
		ClientID:    "203.0.113.7",
		AttemptType: "login",
	})
	w := httptest.NewRecorder()
	h.ResetLimit(w, req)

	assert.Equal(t, 204, w.Code)
	assert.True(t, called, "Reset should be called")
}

func TestResetLimit_UnknownAttemptType_Returns400(t *testing.T) {
	h := newAdminHandler(nil, nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/limits/reset", handlers.ResetLimitRequest{
		ClientID:    "203.0.113.7",
		AttemptType: "password_reset",
	})
	w := httptest.NewRecorder()
	h.ResetLimit(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestResetLimit_StoreFailure_Returns500(t *testing.T) {
	mock := &handlers.MockLimitAdmin{
		ResetFunc: func(ctx context.Context, clientID string, attemptType models.AttemptType) error {
			return errors.New("database down")
		},
	}
	h := newAdminHandler(nil, nil, mock)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/limits/reset", handlers.ResetLimitRequest{
		ClientID:    "203.0.113.7",
		AttemptType: "login",
	})
	w := httptest.NewRecorder()
	h.ResetLimit(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}
