package httpserver

import (
	"net/http"

	"chargeops/backend/services/station-ops/internal/http/handlers"
	"chargeops/backend/services/station-ops/internal/http/middleware"
)

// Routes groups handlers. Nil entries are not registered.
type Routes struct {
	Sessions        *handlers.SessionsHandlers
	Control         *handlers.ControlHandlers
	StationCapacity http.HandlerFunc
	FleetCapacity   http.HandlerFunc
	WebSocket       http.HandlerFunc
	Metrics         http.Handler
	Health          http.HandlerFunc
}

// NewRouter registers endpoints. auth, when set, guards the session and control routes.
func NewRouter(routes Routes, auth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, auth)
	}

	if s := routes.Sessions; s != nil {
		mux.Handle("/sessions", method(http.MethodPost, authenticated(s.Create)))
		mux.Handle("/sessions/scan", method(http.MethodPost, authenticated(s.Scan)))
		mux.Handle("/sessions/{id}/start", method(http.MethodPost, authenticated(s.Start)))
		mux.Handle("/sessions/{id}/complete", method(http.MethodPost, authenticated(s.Complete)))
		mux.Handle("/sessions/{id}/cancel", method(http.MethodPost, authenticated(s.Cancel)))
		mux.Handle("/active-sessions/{id}", method(http.MethodGet, authenticated(s.Active)))
	}
	if c := routes.Control; c != nil {
		mux.Handle("/control/slots/{id}/emergency-stop", method(http.MethodPost, authenticated(c.EmergencyStop)))
		mux.Handle("/control/slots/{id}/maintenance", method(http.MethodPost, authenticated(c.Maintenance)))
		mux.Handle("/control/slots/{id}/resume", method(http.MethodPost, authenticated(c.Resume)))
		mux.Handle("/control/slots/{id}/qr", method(http.MethodPost, authenticated(c.IssueQR)))
		mux.Handle("/control/commands", method(http.MethodPost, authenticated(c.Command)))
	}
	if routes.StationCapacity != nil {
		mux.Handle("/stations/{id}/capacity", method(http.MethodGet, routes.StationCapacity))
	}
	if routes.FleetCapacity != nil {
		mux.Handle("/capacity", method(http.MethodGet, routes.FleetCapacity))
	}
	if routes.WebSocket != nil {
		mux.Handle("/ws", method(http.MethodGet, routes.WebSocket))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
