package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codehive/backend/internal/infrastructure/logging"
)

const (
	// writeWait bounds a single frame write before the socket is declared dead.
	writeWait = 10 * time.Second

	// pingPeriod must be shorter than the read deadline on the browser side.
	pingPeriod = 30 * time.Second
)

// Client is one live websocket channel. It owns the write side of the
// connection: all outbound frames go through the send queue and a single
// write pump goroutine, so no two goroutines ever write the socket
// concurrently. The queue is bounded; a full queue drops the frame rather
// than blocking the producer.
type Client struct {
	id       string
	userID   string
	username string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	log       *logging.Logger
}

func newClient(id, userID, username string, conn *websocket.Conn, buffer int, log *logging.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		id:       id,
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		log:      log,
	}
}

// ID returns the channel identifier assigned at handshake.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user behind this channel.
func (c *Client) UserID() string { return c.userID }

// Username returns the display name of the authenticated user.
func (c *Client) Username() string { return c.username }

// Send enqueues a pre-encoded frame for delivery. It never blocks: a closed
// client or a full queue returns false and the frame is dropped.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close tears the socket down exactly once and stops the write pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. It exits when the client is closed or a write
// fails, closing the client in the latter case so the read loop unblocks.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed, closing channel",
					zap.String("channel_id", c.id),
					zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
