package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/capacity"
)

const healthTimeout = 2 * time.Second

// NewStationCapacityHandler returns GET /stations/{id}/capacity handler.
func NewStationCapacityHandler(svc *capacity.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.StationCapacity(r.Context(), r.PathValue("id"))
		if err != nil {
			writeAppError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// NewFleetCapacityHandler returns GET /capacity handler.
func NewFleetCapacityHandler(svc *capacity.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fleet, stations, err := svc.FleetCapacity(r.Context())
		if err != nil {
			writeAppError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"fleet":    fleet,
			"stations": stations,
		})
	}
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// NewHealthHandler returns GET /health handler. Any failing check answers 503.
func NewHealthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		report := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				report[name] = "unavailable"
				report["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		writeJSON(w, code, report)
	}
}
