// Package relay turns a debate's broker channel into a stream of frames for
// one client.
//
// A session walks through four states:
//
//   - connecting: dial a fresh broker connection and subscribe to debate:{id}
//   - announced: write the synthetic "connected" frame
//   - streaming: wait for the next delivery or client cancellation
//   - closing: unsubscribe, then close the broker connection
//
// A session ends exactly once, when it forwards a debate_completed frame, when
// the client goes away (ctx is cancelled or a write fails), or when the broker
// connection fails. There is no idle timeout; callers that want one bound ctx.
// Events published before the subscription is confirmed are never seen.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wailbentafat/debate-relay/broker"
)

const releaseTimeout = 5 * time.Second

// EndReason records why a session ended.
type EndReason int

const (
	EndCompleted EndReason = iota
	EndClientGone
	EndBrokerError
)

func (r EndReason) String() string {
	switch r {
	case EndCompleted:
		return "completed"
	case EndClientGone:
		return "client_gone"
	case EndBrokerError:
		return "broker_error"
	default:
		return "unknown"
	}
}

// Session identifies one client's stream.
type Session struct {
	ID       string
	DebateID string
}

type Relay struct {
	dialer broker.Dialer
	logger *slog.Logger
}

func New(dialer broker.Dialer, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{dialer: dialer, logger: logger.With("component", "relay")}
}

// Stream runs one session until it ends. Cancelling ctx is how the caller
// reports that the client disconnected. The returned error is non-nil only
// for EndBrokerError.
func (r *Relay) Stream(ctx context.Context, sess Session, w FrameWriter) (EndReason, error) {
	logger := r.logger.With("debate_id", sess.DebateID, "session_id", sess.ID)
	channel := broker.Channel(sess.DebateID)

	conn, err := r.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return EndClientGone, nil
		}
		logger.Warn("broker dial failed", "error", err)
		return EndBrokerError, wrapUnavailable(err)
	}

	sub, err := conn.Subscribe(ctx, channel)
	if err != nil {
		logger.Warn("subscribe failed", "channel", channel, "error", err)
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("broker close failed", "error", cerr)
		}
		if ctx.Err() != nil {
			return EndClientGone, nil
		}
		return EndBrokerError, wrapUnavailable(err)
	}

	defer release(ctx, logger, sub, conn)

	logger.Info("monitor connected", "channel", channel)

	if err := w.WriteFrame(connectedFrame()); err != nil {
		logger.Debug("client write failed", "error", err)
		return EndClientGone, nil
	}

	reason, err := r.pump(ctx, logger, sub, w)
	logger.Info("monitor closed", "reason", reason.String())
	return reason, err
}

func (r *Relay) pump(ctx context.Context, logger *slog.Logger, sub broker.Subscription, w FrameWriter) (EndReason, error) {
	for {
		select {
		case <-ctx.Done():
			return EndClientGone, nil

		case d, ok := <-sub.Deliveries():
			if !ok {
				err := sub.Err()
				if err == nil {
					err = errors.New("subscription ended")
				}
				logger.Warn("broker subscription lost", "error", err)
				return EndBrokerError, wrapUnavailable(err)
			}
			if d.Kind != broker.KindMessage {
				continue
			}

			env, err := broker.DecodeEnvelope(d.Payload)
			if err != nil {
				logger.Warn("discarding message", "error", err)
				continue
			}

			if ctx.Err() != nil {
				return EndClientGone, nil
			}

			frame := frameFromEnvelope(env)
			if err := w.WriteFrame(frame); err != nil {
				logger.Debug("client write failed", "event", frame.Event, "error", err)
				return EndClientGone, nil
			}

			if frame.Event == EventDebateCompleted {
				return EndCompleted, nil
			}
		}
	}
}

// release runs on every exit path once the subscription exists, including
// a panicking FrameWriter. ctx is usually already cancelled here.
func release(ctx context.Context, logger *slog.Logger, sub broker.Subscription, conn broker.MessageBroker) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := sub.Unsubscribe(rctx); err != nil {
		logger.Debug("unsubscribe failed", "error", err)
	}
	if err := conn.Close(); err != nil {
		logger.Debug("broker close failed", "error", err)
	}
}

func wrapUnavailable(err error) error {
	if errors.Is(err, broker.ErrBrokerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", broker.ErrBrokerUnavailable, err)
}
