package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/cache"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/sessions"
)

// SessionsHandlers serves the booking lifecycle endpoints.
type SessionsHandlers struct {
	svc    *sessions.Coordinator
	active *cache.ActiveSessions
	logger *zap.Logger
}

// NewSessionsHandlers returns handlers. active may be nil when no redis is configured.
func NewSessionsHandlers(svc *sessions.Coordinator, active *cache.ActiveSessions, logger *zap.Logger) *SessionsHandlers {
	return &SessionsHandlers{svc: svc, active: active, logger: logger}
}

type createSessionRequest struct {
	UserID                   string     `json:"user_id"`
	VehicleID                string     `json:"vehicle_id"`
	SlotID                   string     `json:"slot_id"`
	StationID                string     `json:"station_id"`
	SchedulingType           string     `json:"scheduling_type"`
	ScheduledStart           *time.Time `json:"scheduled_start"`
	TargetSOC                *float64   `json:"target_soc"`
	EstimatedDurationMinutes *int       `json:"estimated_duration_minutes"`
}

// Create handles POST /sessions.
func (h *SessionsHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	st, err := models.ParseSchedulingType(req.SchedulingType)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	id, err := h.svc.CreateSession(r.Context(), sessions.CreateRequest{
		UserID:                   actorOr(r, req.UserID),
		VehicleID:                req.VehicleID,
		SlotID:                   req.SlotID,
		StationID:                req.StationID,
		SchedulingType:           st,
		ScheduledStart:           req.ScheduledStart,
		TargetSOC:                req.TargetSOC,
		EstimatedDurationMinutes: req.EstimatedDurationMinutes,
	})
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"booking_id": id})
}

type scanRequest struct {
	Payload   string `json:"payload"`
	UserID    string `json:"user_id"`
	VehicleID string `json:"vehicle_id"`
}

// Scan handles POST /sessions/scan.
func (h *SessionsHandlers) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	id, err := h.svc.ScanAndBook(r.Context(), req.Payload, actorOr(r, req.UserID), req.VehicleID)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"booking_id": id})
}

// Start handles POST /sessions/{id}/start.
func (h *SessionsHandlers) Start(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.StartSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type completeRequest struct {
	FinalSOC       *float64 `json:"final_soc"`
	TotalEnergyKWh float64  `json:"total_energy_kwh"`
	UnitPrice      float64  `json:"unit_price"`
}

// Complete handles POST /sessions/{id}/complete.
func (h *SessionsHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	b, inv, err := h.svc.CompleteSession(r.Context(), r.PathValue("id"), sessions.CompleteInput{
		FinalSOC:       req.FinalSOC,
		TotalEnergyKWh: req.TotalEnergyKWh,
		UnitPrice:      req.UnitPrice,
	})
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booking": b, "invoice": inv})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /sessions/{id}/cancel.
func (h *SessionsHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	b, err := h.svc.CancelSession(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Active handles GET /active-sessions/{id} from the redis projection.
func (h *SessionsHandlers) Active(w http.ResponseWriter, r *http.Request) {
	if h.active == nil {
		writeError(w, http.StatusNotFound, "active session cache disabled")
		return
	}
	session, err := h.active.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, cache.ErrSessionNotCached) {
		writeAppError(w, h.logger, apperr.NotFound("active session", r.PathValue("id")))
		return
	}
	if err != nil {
		writeAppError(w, h.logger, apperr.Storage("read active session", err))
		return
	}
	writeJSON(w, http.StatusOK, session)
}
