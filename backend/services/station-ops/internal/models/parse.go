package models

import (
	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/status"
)

// ParseSchedulingType folds a client token into a SchedulingType. An empty token is
// returned as-is so the coordinator can pick the default.
func ParseSchedulingType(raw string) (SchedulingType, error) {
	switch t := SchedulingType(status.Normalize(raw)); t {
	case "", SchedulingScheduled, SchedulingImmediate, SchedulingQRImmediate:
		return t, nil
	default:
		return "", apperr.Validation("unknown scheduling type %q", raw)
	}
}
