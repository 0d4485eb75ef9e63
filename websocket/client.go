package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/wailbentafat/debate-relay/relay"
)

const (
	pingInterval    = 30 * time.Second
	idleLimit       = 60 * time.Second
	writeWait       = 5 * time.Second
	writeRetryDelay = 200 * time.Millisecond
	maxWriteRetries = 2
)

// monitorConn is one monitor's socket. The relay, the keep-alive loop and
// close all write to it, so writes hold mu.
type monitorConn struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	lastSeen atomic.Int64 // UnixNano of the last pong or client message
	logger   *slog.Logger
}

func newMonitorConn(ws *websocket.Conn, logger *slog.Logger) *monitorConn {
	c := &monitorConn{ws: ws, logger: logger}
	c.touch()
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	return c
}

func (c *monitorConn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *monitorConn) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// WriteFrame sends f as one JSON text message, retrying briefly on
// transient write errors.
func (c *monitorConn) WriteFrame(f relay.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	write := func() error {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return backoff.Permanent(err)
		}
		return c.ws.WriteJSON(f)
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), maxWriteRetries)

	return backoff.RetryNotify(write, policy, func(err error, next time.Duration) {
		c.logger.Debug("retrying frame write", "event", f.Event, "error", err, "next_attempt", next)
	})
}

// keepAlive pings every pingInterval and calls onIdle once nothing has been
// heard from the client for idleLimit.
func (c *monitorConn) keepAlive(ctx context.Context, onIdle func()) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.idleFor() > idleLimit {
				onIdle()
				return
			}
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

// readLoop discards client messages until the socket fails, then calls
// onClose. Monitors send nothing meaningful; reading is how a disconnect is
// noticed.
func (c *monitorConn) readLoop(onClose func(err error)) {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			onClose(err)
			return
		}
		c.touch()
	}
}

// close sends a close frame with code and reason, then drops the socket.
func (c *monitorConn) close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("close frame not sent", "error", err)
	}
	return c.ws.Close()
}
