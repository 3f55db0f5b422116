package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/models"
	"github.com/meridianbank/authrisk/internal/services"
	pkghttp "github.com/meridianbank/authrisk/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockRiskEngine implements RiskEngineInterface for testing
type MockRiskEngine struct {
	ProcessLoginFunc       func(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error)
	CheckLoginFunc         func(ctx context.Context, clientID string) (*services.RegistrationDecision, error)
	CheckRegistrationFunc  func(ctx context.Context, clientID string) (*services.RegistrationDecision, error)
	RecordRegistrationFunc func(ctx context.Context, clientID string, success bool) error
}

func (m *MockRiskEngine) ProcessLogin(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error) {
	if m.ProcessLoginFunc == nil {
		return &services.LoginDecision{Allowed: true, Attempt: &models.LoginAttempt{ID: uuid.New()}}, nil
	}
	return m.ProcessLoginFunc(ctx, input)
}

func (m *MockRiskEngine) CheckLogin(ctx context.Context, clientID string) (*services.RegistrationDecision, error) {
	if m.CheckLoginFunc == nil {
		return &services.RegistrationDecision{Allowed: true}, nil
	}
	return m.CheckLoginFunc(ctx, clientID)
}

func (m *MockRiskEngine) CheckRegistration(ctx context.Context, clientID string) (*services.RegistrationDecision, error) {
	if m.CheckRegistrationFunc == nil {
		return &services.RegistrationDecision{Allowed: true}, nil
	}
	return m.CheckRegistrationFunc(ctx, clientID)
}

func (m *MockRiskEngine) RecordRegistration(ctx context.Context, clientID string, success bool) error {
	if m.RecordRegistrationFunc == nil {
		return nil
	}
	return m.RecordRegistrationFunc(ctx, clientID, success)
}

// MockAnomalyService implements AnomalyServiceInterface for testing
type MockAnomalyService struct {
	ListUnresolvedFunc func(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error)
	ListForUserFunc    func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error)
	ResolveFunc        func(ctx context.Context, anomalyID, operatorID uuid.UUID) error
}

func (m *MockAnomalyService) ListUnresolved(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error) {
	if m.ListUnresolvedFunc == nil {
		return []*models.AnomalyDetection{}, nil
	}
	return m.ListUnresolvedFunc(ctx, limit, offset)
}

func (m *MockAnomalyService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error) {
	if m.ListForUserFunc == nil {
		return []*models.AnomalyDetection{}, nil
	}
	return m.ListForUserFunc(ctx, userID, limit, offset)
}

func (m *MockAnomalyService) Resolve(ctx context.Context, anomalyID, operatorID uuid.UUID) error {
	if m.ResolveFunc == nil {
		return nil
	}
	return m.ResolveFunc(ctx, anomalyID, operatorID)
}

// MockAlertService implements AlertServiceInterface for testing
type MockAlertService struct {
	ListForUserFunc     func(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error)
	MarkReadFunc        func(ctx context.Context, alertID, userID uuid.UUID) error
	MarkActionTakenFunc func(ctx context.Context, alertID, userID uuid.UUID) error
	DeliverPendingFunc  func(ctx context.Context, batchSize int) (int, error)
	SweepExpiredFunc    func(ctx context.Context) (int64, error)
}

func (m *MockAlertService) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error) {
	if m.ListForUserFunc == nil {
		return []*models.SecurityAlert{}, nil
	}
	return m.ListForUserFunc(ctx, userID, unreadOnly, includeExpired, limit)
}

func (m *MockAlertService) MarkRead(ctx context.Context, alertID, userID uuid.UUID) error {
	if m.MarkReadFunc == nil {
		return nil
	}
	return m.MarkReadFunc(ctx, alertID, userID)
}

func (m *MockAlertService) MarkActionTaken(ctx context.Context, alertID, userID uuid.UUID) error {
	if m.MarkActionTakenFunc == nil {
		return nil
	}
	return m.MarkActionTakenFunc(ctx, alertID, userID)
}

func (m *MockAlertService) DeliverPending(ctx context.Context, batchSize int) (int, error) {
	if m.DeliverPendingFunc == nil {
		return 0, nil
	}
	return m.DeliverPendingFunc(ctx, batchSize)
}

func (m *MockAlertService) SweepExpired(ctx context.Context) (int64, error) {
	if m.SweepExpiredFunc == nil {
		return 0, nil
	}
	return m.SweepExpiredFunc(ctx)
}

// MockLimitAdmin implements LimitAdminInterface for testing
type MockLimitAdmin struct {
	ResetFunc func(ctx context.Context, clientID string, attemptType models.AttemptType) error
}

func (m *MockLimitAdmin) Reset(ctx context.Context, clientID string, attemptType models.AttemptType) error {
	if m.ResetFunc == nil {
		return nil
	}
	return m.ResetFunc(ctx, clientID, attemptType)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
