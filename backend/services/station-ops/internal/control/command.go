package control

import (
	"strings"

	"go.uber.org/multierr"

	"chargeops/backend/services/station-ops/internal/apperr"
	"chargeops/backend/services/station-ops/internal/status"
)

// Scope names what a command targets.
type Scope string

const (
	ScopeStation Scope = "station"
	ScopePost    Scope = "post"
	ScopeSlot    Scope = "slot"
)

// Verb is a control command verb.
type Verb string

const (
	VerbStart           Verb = "start"
	VerbStop            Verb = "stop"
	VerbRestart         Verb = "restart"
	VerbMaintenance     Verb = "maintenance"
	VerbEnableAll       Verb = "enable_all"
	VerbDisableAll      Verb = "disable_all"
	VerbRestartAll      Verb = "restart_all"
	VerbMaintenanceMode Verb = "maintenance_mode"
)

var knownVerbs = map[Verb]struct{}{
	VerbStart: {}, VerbStop: {}, VerbRestart: {}, VerbMaintenance: {},
	VerbEnableAll: {}, VerbDisableAll: {}, VerbRestartAll: {}, VerbMaintenanceMode: {},
}

// ParseVerb folds a boundary token into a Verb.
func ParseVerb(raw string) (Verb, bool) {
	v := Verb(strings.ReplaceAll(status.Normalize(raw), "-", "_"))
	_, ok := knownVerbs[v]
	return v, ok
}

// Station reports whether the verb only applies to a whole station.
func (v Verb) Station() bool {
	switch v {
	case VerbEnableAll, VerbDisableAll, VerbRestartAll, VerbMaintenanceMode:
		return true
	default:
		return false
	}
}

// Command is an administrative control request. Scope may be left empty: bulk verbs imply
// a station and other verbs are resolved from the target id.
type Command struct {
	Scope          Scope   `json:"scope,omitempty"`
	TargetID       string  `json:"target_id"`
	Verb           string  `json:"verb"`
	Reason         string  `json:"reason,omitempty"`
	ActorID        string  `json:"actor_id"`
	EstimatedHours float64 `json:"estimated_hours,omitempty"`
}

// Result is the outcome reported for a command.
type Result struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	AffectedCount int      `json:"affected_count"`
	Errors        []string `json:"errors"`
}

func failed(err error) Result {
	msgs := make([]string, 0, 1)
	for _, e := range multierr.Errors(err) {
		msgs = append(msgs, e.Error())
	}
	return Result{Success: false, Message: "command failed", Errors: msgs}
}

// validate checks every field and reports all problems at once.
func (cmd Command) validate() (Verb, error) {
	var err error
	if strings.TrimSpace(cmd.TargetID) == "" {
		err = multierr.Append(err, apperr.Validation("target id is required"))
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		err = multierr.Append(err, apperr.Validation("actor id is required"))
	}
	if cmd.EstimatedHours < 0 {
		err = multierr.Append(err, apperr.Validation("estimated hours must not be negative"))
	}

	verb, ok := ParseVerb(cmd.Verb)
	if !ok {
		err = multierr.Append(err, apperr.Validation("unknown verb %q", cmd.Verb))
		return verb, err
	}

	switch Scope(status.Normalize(string(cmd.Scope))) {
	case "":
	case ScopeStation:
		if !verb.Station() {
			err = multierr.Append(err, apperr.Validation("verb %s does not apply to a station", verb))
		}
	case ScopePost:
		if verb.Station() {
			err = multierr.Append(err, apperr.Validation("verb %s only applies to a station", verb))
		}
	case ScopeSlot:
		if verb.Station() || verb == VerbRestart {
			err = multierr.Append(err, apperr.Validation("verb %s does not apply to a slot", verb))
		}
	default:
		err = multierr.Append(err, apperr.Validation("unknown scope %q", cmd.Scope))
	}
	return verb, err
}
