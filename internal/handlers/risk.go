package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/models"
	"github.com/meridianbank/authrisk/internal/services"
	pkghttp "github.com/meridianbank/authrisk/pkg/http"
)

// RiskEngineInterface defines the interface for the risk engine
type RiskEngineInterface interface {
	ProcessLogin(ctx context.Context, input services.LoginInput) (*services.LoginDecision, error)
	CheckLogin(ctx context.Context, clientID string) (*services.RegistrationDecision, error)
	CheckRegistration(ctx context.Context, clientID string) (*services.RegistrationDecision, error)
	RecordRegistration(ctx context.Context, clientID string, success bool) error
}

// RiskHandler handles attempt ingestion and pre-flight limit checks from the
// authentication flow
type RiskHandler struct {
	engine   RiskEngineInterface
	ipConfig *pkghttp.IPConfig
}

// NewRiskHandler creates a new RiskHandler
func NewRiskHandler(engine RiskEngineInterface, ipConfig *pkghttp.IPConfig) *RiskHandler {
	return &RiskHandler{
		engine:   engine,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LocationPayload is the optional geolocation of an attempt
type LocationPayload struct {
	Country   string   `json:"country" validate:"max=100"`
	Region    string   `json:"region" validate:"max=100"`
	City      string   `json:"city" validate:"max=100"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// LoginAttemptRequest represents one completed login attempt reported by the
// authentication flow
type LoginAttemptRequest struct {
	UserID            string           `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Email             string           `json:"email" validate:"required,email"`
	Success           bool             `json:"success"`
	IPAddress         string           `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent         string           `json:"user_agent,omitempty" validate:"max=1024"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty" validate:"max=128"`
	Location          *LocationPayload `json:"location,omitempty"`
}

// RegistrationAttemptRequest represents one completed registration attempt
type RegistrationAttemptRequest struct {
	ClientID string `json:"client_id,omitempty" validate:"omitempty,ip"`
	Success  bool   `json:"success"`
}

// Response DTOs

// AnomalyPayload is one detection in a decision response
type AnomalyPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Severity int    `json:"severity"`
}

// LoginDecisionResponse is the engine's verdict on a login attempt
type LoginDecisionResponse struct {
	Allowed           bool             `json:"allowed"`
	RemainingAttempts int              `json:"remaining_attempts"`
	RetryAfterSeconds *int64           `json:"retry_after_seconds,omitempty"`
	AttemptID         string           `json:"attempt_id"`
	Anomalies         []AnomalyPayload `json:"anomalies"`
	ScoringComplete   bool             `json:"scoring_complete"`
}

// LimitCheckResponse is the verdict of a pre-flight limit check
type LimitCheckResponse struct {
	Allowed           bool   `json:"allowed"`
	RemainingAttempts int    `json:"remaining_attempts"`
	RetryAfterSeconds *int64 `json:"retry_after_seconds,omitempty"`
}

// RecordLoginAttempt ingests one completed login attempt, scores it, and
// returns the decision
func (h *RiskHandler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	var req LoginAttemptRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.Location != nil {
		if err := ValidateRequest(*req.Location); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	input := services.LoginInput{
		Email:             req.Email,
		Success:           req.Success,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
	}

	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid user_id")
			return
		}
		input.UserID = &userID
	}

	// The reporting service may forward the end user's IP; otherwise fall
	// back to the connection's address.
	input.IPAddress = req.IPAddress
	if input.IPAddress == "" {
		input.IPAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	if input.UserAgent == "" {
		input.UserAgent = r.Header.Get("User-Agent")
	}
	if req.Location != nil {
		input.Location = models.Location{
			Country:   req.Location.Country,
			Region:    req.Location.Region,
			City:      req.Location.City,
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
		}
	}

	decision, err := h.engine.ProcessLogin(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid attempt data")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := LoginDecisionResponse{
		Allowed:           decision.Allowed,
		RemainingAttempts: decision.RemainingAttempts,
		RetryAfterSeconds: retryAfterSeconds(decision.RetryAfter),
		AttemptID:         decision.Attempt.ID.String(),
		Anomalies:         make([]AnomalyPayload, 0, len(decision.Detections)),
		ScoringComplete:   decision.ScoringComplete,
	}
	for _, d := range decision.Detections {
		resp.Anomalies = append(resp.Anomalies, AnomalyPayload{
			ID:       d.ID.String(),
			Type:     string(d.AnomalyType),
			Severity: d.Severity,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// CheckLoginLimit reports whether the client may attempt a login. The
// authentication flow calls this before validating credentials.
func (h *RiskHandler) CheckLoginLimit(w http.ResponseWriter, r *http.Request) {
	h.checkLimit(w, r, h.engine.CheckLogin)
}

// CheckRegistrationLimit reports whether the client may attempt registration
func (h *RiskHandler) CheckRegistrationLimit(w http.ResponseWriter, r *http.Request) {
	h.checkLimit(w, r, h.engine.CheckRegistration)
}

func (h *RiskHandler) checkLimit(w http.ResponseWriter, r *http.Request, check func(context.Context, string) (*services.RegistrationDecision, error)) {
	clientID := h.clientID(r)

	decision, err := check(r.Context(), clientID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := LimitCheckResponse{
		Allowed:           decision.Allowed,
		RemainingAttempts: decision.RemainingAttempts,
		RetryAfterSeconds: retryAfterSeconds(decision.RetryAfter),
	}

	if !decision.Allowed {
		retryAfter := ""
		if resp.RetryAfterSeconds != nil {
			retryAfter = fmt.Sprintf("%d", *resp.RetryAfterSeconds)
		}
		w.Header().Set("Content-Type", "application/json")
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RecordRegistrationAttempt ingests one completed registration attempt
func (h *RiskHandler) RecordRegistrationAttempt(w http.ResponseWriter, r *http.Request) {
	var req RegistrationAttemptRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	if err := h.engine.RecordRegistration(r.Context(), clientID, req.Success); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrUnknownAttemptType):
			pkghttp.WriteBadRequest(w, "Invalid attempt data")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// clientID resolves the rate limiting key for a check request. The caller
// may name the end user's IP explicitly; otherwise the connection's address
// is used.
func (h *RiskHandler) clientID(r *http.Request) string {
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		return clientID
	}
	return pkghttp.ExtractClientIP(r, h.ipConfig)
}

func retryAfterSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return &secs
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
