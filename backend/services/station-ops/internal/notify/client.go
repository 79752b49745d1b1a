package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit = 4 * 1024
	pongWait  = 60 * time.Second
	sendQueue = 64
)

// Client is one dashboard connection. Dashboards only listen; anything they send is discarded.
type Client struct {
	id        uint64
	stationID string
	ws        *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

func newClient(id uint64, stationID string, ws *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:        id,
		stationID: stationID,
		ws:        ws,
		send:      make(chan []byte, sendQueue),
		hub:       hub,
	}
}

// Start launches the write pump and runs the read pump until the peer goes away.
func (c *Client) Start() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.hub.logger.Info("dashboard read closed", zap.Uint64("client_id", c.id), zap.Error(err))
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// Send enqueues a message. The caller holds the hub read lock, so the queue is open.
func (c *Client) Send(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.hub.logger.Warn("dropping dashboard message, buffer full", zap.Uint64("client_id", c.id))
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Client) cleanup() {
	c.hub.remove(c.id)
	c.closed()
}

func (c *Client) closed() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
