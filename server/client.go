package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/gridsync/transport"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer (4MB for document snapshots)
	maxMessageSize = 4 * 1024 * 1024

	// Per-client queue depth before messages are dropped
	sendQueueSize = 256
)

// Inbound updates are rate limited per client; bursts cover structural
// remaps that emit many transactions at once.
const (
	updateRatePerSecond = 200
	updateRateBurst     = 400
)

// client is one WebSocket connection inside a room.
type client struct {
	id      string
	conn    *websocket.Conn
	room    *room
	send    chan transport.Msg
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func newClient(id string, conn *websocket.Conn, r *room, logger *zap.SugaredLogger) *client {
	return &client{
		id:      id,
		conn:    conn,
		room:    r,
		send:    make(chan transport.Msg, sendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(updateRatePerSecond), updateRateBurst),
		logger:  logger,
	}
}

// queue enqueues a message for delivery. Reports false when the client's
// channel is full; slow clients miss relayed updates and recover through
// the snapshot on reconnect.
func (c *client) queue(msg transport.Msg) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump reads messages from the connection until it dies, dispatching
// them to the room.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.room.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg transport.Msg
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugw("Client read failed", "client", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case transport.MsgUpdate:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			c.room.handleUpdate(c, msg)
		case transport.MsgAwareness:
			c.room.handleAwareness(c, msg)
		default:
			c.logger.Debugw("Ignoring unexpected message from client",
				"client", c.id,
				"type", string(msg.Type),
			)
		}
	}
}

// writePump drains the send channel to the connection and keeps the
// connection alive with pings.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
