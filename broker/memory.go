package broker

import (
	"context"
	"fmt"
	"sync"
)

const memoryBufferSize = 64

// MemoryHub is a process-local pub/sub bus with Redis-like semantics:
// deliveries go only to current subscribers, and a subscriber whose buffer
// is full misses the message. Each Dial returns an independent connection.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*memorySubscription
	conns  int
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[int]*memorySubscription)}
}

// Dial opens a connection to the hub.
func (h *MemoryHub) Dial(ctx context.Context) (MessageBroker, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	h.mu.Lock()
	h.conns++
	h.mu.Unlock()
	return &memoryBroker{hub: h, subs: make(map[*memorySubscription]struct{})}, nil
}

// PublishRaw delivers payload as-is. Producers normally go through a
// connection's Publish; this exists for foreign producers and tests.
func (h *MemoryHub) PublishRaw(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[channel] {
		d := Delivery{Kind: KindMessage, Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case sub.deliveries <- d:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions on channel.
func (h *MemoryHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// OpenConns reports the number of connections that have not been closed.
func (h *MemoryHub) OpenConns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns
}

// Sever ends every subscription on channel as if its broker connection had
// dropped.
func (h *MemoryHub) Sever(channel string) {
	h.mu.RLock()
	subs := make([]*memorySubscription, 0, len(h.subs[channel]))
	for _, sub := range h.subs[channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.remove(sub, fmt.Errorf("%w: connection lost", ErrBrokerUnavailable))
	}
}

func (h *MemoryHub) subscribe(channel string) *memorySubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[channel]; !ok {
		h.subs[channel] = make(map[int]*memorySubscription)
	}
	sub := &memorySubscription{
		hub:        h,
		id:         h.nextID,
		channel:    channel,
		deliveries: make(chan Delivery, memoryBufferSize),
	}
	h.nextID++
	h.subs[channel][sub.id] = sub
	return sub
}

func (h *MemoryHub) remove(sub *memorySubscription, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byChannel, ok := h.subs[sub.channel]
	if !ok {
		return
	}
	if _, exists := byChannel[sub.id]; !exists {
		return
	}
	delete(byChannel, sub.id)
	if len(byChannel) == 0 {
		delete(h.subs, sub.channel)
	}
	sub.err = err
	close(sub.deliveries)
}

type memoryBroker struct {
	hub    *MemoryHub
	mu     sync.Mutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func (b *memoryBroker) Publish(ctx context.Context, channel string, envelope Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: connection closed", ErrBrokerUnavailable)
	}

	payload, err := envelope.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	b.hub.PublishRaw(channel, payload)
	return nil
}

func (b *memoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: connection closed", ErrBrokerUnavailable)
	}

	sub := b.hub.subscribe(channel)
	sub.conn = b
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close ends every subscription still open on this connection with
// ErrBrokerUnavailable, the way a dropped Redis connection would.
func (b *memoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for sub := range subs {
		b.hub.remove(sub, fmt.Errorf("%w: connection closed", ErrBrokerUnavailable))
	}

	b.hub.mu.Lock()
	b.hub.conns--
	b.hub.mu.Unlock()
	return nil
}

func (b *memoryBroker) forget(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

type memorySubscription struct {
	hub        *MemoryHub
	conn       *memoryBroker
	id         int
	channel    string
	deliveries chan Delivery
	err        error
}

func (s *memorySubscription) Deliveries() <-chan Delivery {
	return s.deliveries
}

func (s *memorySubscription) Err() error {
	return s.err
}

func (s *memorySubscription) Unsubscribe(ctx context.Context) error {
	s.conn.forget(s)
	s.hub.remove(s, nil)
	return nil
}
