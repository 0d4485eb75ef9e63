// Package publisher emits debate lifecycle events onto the broker.
//
// Delivery is fire-and-forget: an event reaches whichever relay sessions are
// subscribed at the moment it is published and is lost otherwise. Nothing
// reports whether anyone was listening.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wailbentafat/debate-relay/broker"
)

var ErrInvalidPayload = errors.New("invalid event payload")

// Publisher owns one long-lived broker connection shared by every emission.
type Publisher struct {
	broker broker.MessageBroker
	logger *slog.Logger
}

func New(b broker.MessageBroker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{broker: b, logger: logger.With("component", "publisher")}
}

// Emit publishes {event: eventType, data: payload} on the debate's channel.
// Broker failures are returned wrapped in broker.ErrBrokerUnavailable.
func (p *Publisher) Emit(ctx context.Context, debateID, eventType string, payload any) error {
	env, err := broker.NewEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	channel := broker.Channel(debateID)
	if err := p.broker.Publish(ctx, channel, env); err != nil {
		return err
	}

	p.logger.Debug("event published", "debate_id", debateID, "event", eventType)
	return nil
}

// EmitBestEffort is Emit for callers that must not be affected by a lost
// event. Failures are logged and dropped.
func (p *Publisher) EmitBestEffort(ctx context.Context, debateID, eventType string, payload any) {
	if err := p.Emit(ctx, debateID, eventType, payload); err != nil {
		p.logger.Warn("event dropped", "debate_id", debateID, "event", eventType, "error", err)
	}
}

// Close releases the shared broker connection.
func (p *Publisher) Close() error {
	return p.broker.Close()
}
