package broker

import (
	"context"
)

// ChannelPrefix is prepended to a debate ID to form its pub/sub channel.
const ChannelPrefix = "debate:"

// Channel returns the pub/sub channel carrying events for debateID.
// The ID is passed through verbatim.
func Channel(debateID string) string {
	return ChannelPrefix + debateID
}

// Kind distinguishes payload deliveries from broker control traffic.
type Kind int

const (
	KindMessage Kind = iota
	KindSubscribe
	KindUnsubscribe
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Delivery is one item read from a subscription.
type Delivery struct {
	Kind    Kind
	Channel string
	Payload []byte
}

type MessageBroker interface {
	Publish(ctx context.Context, channel string, envelope Envelope) error

	// Subscribe returns once the broker has confirmed the subscription.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// Subscription is a live subscription to one channel.
type Subscription interface {
	// Deliveries is closed when the subscription ends, either because it was
	// released or because the broker connection failed.
	Deliveries() <-chan Delivery

	// Err reports why Deliveries was closed. It is nil after Unsubscribe
	// and only meaningful once Deliveries has been closed.
	Err() error

	Unsubscribe(ctx context.Context) error
}

// Dialer opens new broker connections.
type Dialer interface {
	Dial(ctx context.Context) (MessageBroker, error)
}
