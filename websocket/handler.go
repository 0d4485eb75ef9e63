// Package websocket streams relay frames over a WebSocket connection.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wailbentafat/debate-relay/relay"
)

type Handler struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(r *relay.Relay, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket"),
	}
}

// Serve upgrades the request and runs sess until it ends. Cancelling ctx
// ends the session the same way a client disconnect does.
func (h *Handler) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sess relay.Session) (relay.EndReason, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "debate_id", sess.DebateID, "error", err)
		return relay.EndClientGone, nil
	}

	logger := h.logger.With("debate_id", sess.DebateID, "session_id", sess.ID)
	mc := newMonitorConn(conn, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go mc.keepAlive(ctx, func() {
		logger.Info("monitor idle, closing")
		cancel()
	})
	go mc.readLoop(func(err error) {
		logger.Debug("read loop ended", "error", err)
		cancel()
	})

	reason, err := h.relay.Stream(ctx, sess, mc)

	switch reason {
	case relay.EndCompleted:
		mc.close(websocket.CloseNormalClosure, relay.EventDebateCompleted)
	case relay.EndBrokerError:
		mc.close(websocket.CloseTryAgainLater, "")
	default:
		mc.close(websocket.CloseGoingAway, "")
	}

	return reason, err
}
