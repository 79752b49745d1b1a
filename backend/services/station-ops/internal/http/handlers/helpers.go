package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError reports err with its kind. Storage and internal failures are logged and
// their details hidden.
func writeAppError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	kind := apperr.KindOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// actorOr returns the authenticated caller, falling back to the id supplied in the body.
func actorOr(r *http.Request, fallback string) string {
	if id, ok := middleware.ActorIDFromContext(r.Context()); ok {
		return id
	}
	return fallback
}
