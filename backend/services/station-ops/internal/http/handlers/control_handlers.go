package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/control"
	"chargeops/backend/services/station-ops/internal/models"
	"chargeops/backend/services/station-ops/internal/sessions"
)

// ControlHandlers serves the administrative override endpoints.
type ControlHandlers struct {
	svc      *control.Coordinator
	sessions *sessions.Coordinator
	logger   *zap.Logger
}

// NewControlHandlers returns handlers. sessions issues slot QR codes.
func NewControlHandlers(svc *control.Coordinator, sessions *sessions.Coordinator, logger *zap.Logger) *ControlHandlers {
	return &ControlHandlers{svc: svc, sessions: sessions, logger: logger}
}

type slotActionRequest struct {
	ActorID        string  `json:"actor_id"`
	Reason         string  `json:"reason"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// EmergencyStop handles POST /control/slots/{id}/emergency-stop.
func (h *ControlHandlers) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req slotActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	res, err := h.svc.EmergencyStop(r.Context(), r.PathValue("id"), actorOr(r, req.ActorID), req.Reason)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Maintenance handles POST /control/slots/{id}/maintenance.
func (h *ControlHandlers) Maintenance(w http.ResponseWriter, r *http.Request) {
	var req slotActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	res, err := h.svc.SetMaintenance(r.Context(), r.PathValue("id"), actorOr(r, req.ActorID), req.Reason, req.EstimatedHours)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resume handles POST /control/slots/{id}/resume.
func (h *ControlHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	var req slotActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	res, err := h.svc.ResumeFromMaintenance(r.Context(), r.PathValue("id"), actorOr(r, req.ActorID))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Command handles POST /control/commands. The result body is written on failure too.
func (h *ControlHandlers) Command(w http.ResponseWriter, r *http.Request) {
	var cmd control.Command
	if err := decodeJSON(r, &cmd); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	cmd.ActorID = actorOr(r, cmd.ActorID)

	res, err := h.svc.Dispatch(r.Context(), cmd)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("control command failed", zap.Error(err))
			res.Errors = []string{"internal error"}
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type issueQRRequest struct {
	StationID  string `json:"station_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type issueQRResponse struct {
	Payload string         `json:"payload"`
	Token   models.QRToken `json:"token"`
}

// IssueQR handles POST /control/slots/{id}/qr.
func (h *ControlHandlers) IssueQR(w http.ResponseWriter, r *http.Request) {
	var req issueQRRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	payload, tok, err := h.sessions.IssueQRToken(r.Context(), req.StationID, r.PathValue("id"), ttl)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueQRResponse{Payload: payload, Token: tok})
}
