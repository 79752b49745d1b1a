// Package notify pushes committed state changes to dashboards over websockets.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargeops/backend/services/station-ops/internal/events"
)

// Hub tracks dashboard connections and broadcasts events to them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[uint64]*Client
	nextID       uint64
	pingInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(pingInterval, writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		clients:      make(map[uint64]*Client),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

var _ events.Publisher = (*Hub)(nil)

// Publish implements events.Publisher. Clients subscribed to another station are skipped.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.stationID != "" && c.stationID != event.StationID {
			continue
		}
		c.Send(msg)
	}
	return nil
}

// HandleWS is the HTTP handler for /ws. An optional station_id query narrows the feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := h.add(conn, r.URL.Query().Get("station_id"))
	h.logger.Info("dashboard connected", zap.Uint64("client_id", c.id), zap.String("station_id", c.stationID))
	go c.Start()
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run blocks until ctx is done and then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.closed()
	}
	return nil
}

func (h *Hub) add(conn *websocket.Conn, stationID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := newClient(h.nextID, stationID, conn, h)
	h.clients[c.id] = c
	return c
}

// remove unregisters a client and closes its queue. It reports false when the client was
// already gone.
func (h *Hub) remove(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	delete(h.clients, id)
	close(c.send)
	return true
}
