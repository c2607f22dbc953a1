// ABOUTME: A live WebSocket client: identity, bounded send queue, and writer pump
// ABOUTME: Sends never block; a full queue is reported so the caller can drop the client

package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	// ErrConnClosed is returned by Send after the connection is closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when the client is not keeping up.
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is one client connection. It satisfies hub.Conn.
type Conn struct {
	id       string
	userID   int64
	username string
	ws       *websocket.Conn

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(c *websocket.Conn, userID int64, username string, queue int) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		ws:       c,
		out:      make(chan []byte, queue),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) UserID() int64    { return c.userID }
func (c *Conn) Username() string { return c.username }

// Send queues frame for the writer pump.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the connection with StatusGoingAway. Only the first call has
// any effect.
func (c *Conn) Close(reason string) error {
	return c.closeWith(websocket.StatusGoingAway, reason)
}

func (c *Conn) closeWith(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close(code, reason)
	})
	return err
}

// writePump writes queued frames and pings the client until the connection
// closes or ctx ends. Each write is bounded by writeTimeout.
func (c *Conn) writePump(ctx context.Context, writeTimeout, pingInterval time.Duration) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
