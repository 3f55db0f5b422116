package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/models"
	pkghttp "github.com/meridianbank/authrisk/pkg/http"
)

// AnomalyServiceInterface defines the anomaly review contract
type AnomalyServiceInterface interface {
	ListUnresolved(ctx context.Context, limit, offset int) ([]*models.AnomalyDetection, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AnomalyDetection, error)
	Resolve(ctx context.Context, anomalyID, operatorID uuid.UUID) error
}

// AlertServiceInterface defines the alert management contract
type AlertServiceInterface interface {
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly, includeExpired bool, limit int) ([]*models.SecurityAlert, error)
	MarkRead(ctx context.Context, alertID, userID uuid.UUID) error
	MarkActionTaken(ctx context.Context, alertID, userID uuid.UUID) error
	DeliverPending(ctx context.Context, batchSize int) (int, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// LimitAdminInterface defines the operator's rate limit controls
type LimitAdminInterface interface {
	Reset(ctx context.Context, clientID string, attemptType models.AttemptType) error
}

// AdminHandler handles operator HTTP requests: anomaly review, alert
// management, and rate limit overrides.
type AdminHandler struct {
	anomalies AnomalyServiceInterface
	alerts    AlertServiceInterface
	limits    LimitAdminInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(anomalies AnomalyServiceInterface, alerts AlertServiceInterface, limits LimitAdminInterface) *AdminHandler {
	return &AdminHandler{
		anomalies: anomalies,
		alerts:    alerts,
		limits:    limits,
	}
}

// Response DTOs

// AnomalyResponse is one anomaly detection record
type AnomalyResponse struct {
	ID         string     `json:"id"`
	AttemptID  string     `json:"attempt_id"`
	UserID     *string    `json:"user_id,omitempty"`
	Type       string     `json:"type"`
	Severity   int        `json:"severity"`
	DetectedAt time.Time  `json:"detected_at"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertResponse is one security alert record
type AlertResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Category      string     `json:"category"`
	Severity      string     `json:"severity"`
	SeverityScore int        `json:"severity_score"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsRead        bool       `json:"is_read"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	ActionTakenAt *time.Time `json:"action_taken_at,omitempty"`
}

// ResolveAnomalyRequest names the operator resolving an anomaly
type ResolveAnomalyRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required,uuid"`
}

// ResetLimitRequest names the rate limit entry to clear
type ResetLimitRequest struct {
	ClientID    string `json:"client_id" validate:"required"`
	AttemptType string `json:"attempt_type" validate:"required,oneof=login registration"`
}

// ListUnresolvedAnomalies handles GET /admin/anomalies
// Accepts optional query params ?limit=N and ?offset=N.
func (h *AdminHandler) ListUnresolvedAnomalies(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	detections, err := h.anomalies.ListUnresolved(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve anomalies")
		return
	}

	writeJSON(w, http.StatusOK, anomalyResponses(detections))
}

// ListUserAnomalies handles GET /admin/users/{userID}/anomalies
func (h *AdminHandler) ListUserAnomalies(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	limit, offset := paginationParams(r)

	detections, err := h.anomalies.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve anomalies")
		return
	}

	writeJSON(w, http.StatusOK, anomalyResponses(detections))
}

// ResolveAnomaly handles POST /admin/anomalies/{anomalyID}/resolve
func (h *AdminHandler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	anomalyID, err := uuid.Parse(chi.URLParam(r, "anomalyID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid anomaly ID")
		return
	}

	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	operatorID, err := uuid.Parse(req.ResolvedBy)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid resolved_by")
		return
	}

	if err := h.anomalies.Resolve(r.Context(), anomalyID, operatorID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Anomaly not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to resolve anomaly")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListUserAlerts handles GET /admin/users/{userID}/alerts
// Accepts optional query params ?unread_only=true, ?include_expired=true,
// and ?limit=N.
func (h *AdminHandler) ListUserAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	includeExpired := r.URL.Query().Get("include_expired") == "true"
	limit, _ := paginationParams(r)

	alerts, err := h.alerts.ListForUser(r.Context(), userID, unreadOnly, includeExpired, limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve alerts")
		return
	}

	resp := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, AlertResponse{
			ID:            a.ID.String(),
			UserID:        a.UserID.String(),
			Category:      string(a.Category),
			Severity:      string(a.Severity),
			SeverityScore: a.SeverityScore,
			Message:       a.Message,
			Status:        string(a.Status),
			CreatedAt:     a.CreatedAt,
			ExpiresAt:     a.ExpiresAt,
			IsRead:        a.IsRead,
			ReadAt:        a.ReadAt,
			ActionTakenAt: a.ActionTakenAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkAlertRead handles POST /admin/users/{userID}/alerts/{alertID}/read
func (h *AdminHandler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, h.alerts.MarkRead)
}

// MarkAlertActionTaken handles POST /admin/users/{userID}/alerts/{alertID}/action
func (h *AdminHandler) MarkAlertActionTaken(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, h.alerts.MarkActionTaken)
}

func (h *AdminHandler) alertAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID, uuid.UUID) error) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid alert ID")
		return
	}

	if err := action(r.Context(), alertID, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Alert not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to update alert")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetLimit handles POST /admin/limits/reset
func (h *AdminHandler) ResetLimit(w http.ResponseWriter, r *http.Request) {
	var req ResetLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.limits.Reset(r.Context(), req.ClientID, models.AttemptType(req.AttemptType)); err != nil {
		pkghttp.WriteInternalError(w, "Failed to reset rate limit")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeliverPendingAlerts handles POST /admin/alerts/deliver
// Accepts optional query param ?batch=N (1-500, default 100).
func (h *AdminHandler) DeliverPendingAlerts(w http.ResponseWriter, r *http.Request) {
	batch := 100
	if b := r.URL.Query().Get("batch"); b != "" {
		if n, err := strconv.Atoi(b); err == nil && n > 0 && n <= 500 {
			batch = n
		}
	}

	delivered, err := h.alerts.DeliverPending(r.Context(), batch)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to deliver alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

// SweepExpiredAlerts handles POST /admin/alerts/sweep
func (h *AdminHandler) SweepExpiredAlerts(w http.ResponseWriter, r *http.Request) {
	swept, err := h.alerts.SweepExpired(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to sweep alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"expired": swept})
}

func anomalyResponses(detections []*models.AnomalyDetection) []AnomalyResponse {
	resp := make([]AnomalyResponse, 0, len(detections))
	for _, d := range detections {
		item := AnomalyResponse{
			ID:         d.ID.String(),
			AttemptID:  d.AttemptID.String(),
			Type:       string(d.AnomalyType),
			Severity:   d.Severity,
			DetectedAt: d.DetectedAt,
			IsResolved: d.IsResolved,
			ResolvedAt: d.ResolvedAt,
		}
		if d.UserID != nil {
			s := d.UserID.String()
			item.UserID = &s
		}
		if d.ResolvedBy != nil {
			s := d.ResolvedBy.String()
			item.ResolvedBy = &s
		}
		resp = append(resp, item)
	}
	return resp
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
