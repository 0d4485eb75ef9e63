package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
)

const (
	DefaultMaxRetries = 3
	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 5 * time.Second
	pingTimeout       = 5 * time.Second
)

// RedisDialer opens Redis pub/sub connections from a parsed URL.
type RedisDialer struct {
	opts       *redis.Options
	maxRetries uint64
	logger     *slog.Logger
}

// NewRedisDialer parses a redis:// or rediss:// URL.
func NewRedisDialer(url string, maxRetries int, logger *slog.Logger) (*RedisDialer, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDialer{opts: opts, maxRetries: uint64(maxRetries), logger: logger}, nil
}

// Dial creates a new client and checks it with a PING.
func (d *RedisDialer) Dial(ctx context.Context) (MessageBroker, error) {
	return NewRedisBroker(ctx, d.opts, d.maxRetries, d.logger)
}

// RedisBroker implements MessageBroker using Redis pub/sub
type RedisBroker struct {
	client     *redis.Client
	maxRetries uint64
	logger     *slog.Logger
}

// NewRedisBroker creates a new Redis message broker
func NewRedisBroker(ctx context.Context, opts *redis.Options, maxRetries uint64, logger *slog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis connection failed: %v", ErrBrokerUnavailable, err)
	}

	return &RedisBroker{client: client, maxRetries: maxRetries, logger: logger}, nil
}

// Publish sends an envelope to the channel, retrying transient failures.
// It does not wait for, or report on, subscribers.
func (b *RedisBroker) Publish(ctx context.Context, channel string, envelope Envelope) error {
	operation := func() error {
		return b.client.Publish(ctx, channel, envelope).Err()
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(initialBackoff),
				backoff.WithMaxInterval(maxBackoff),
			),
			b.maxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		b.logger.Warn("retrying redis publish",
			"channel", channel, "event", envelope.Event, "error", err, "next_attempt", d)
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrBrokerUnavailable, channel, err)
	}
	return nil
}

// Subscribe waits for the subscription confirmation, then pumps every
// reply from the connection into the returned Subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe to %s: %v", ErrBrokerUnavailable, channel, err)
	}

	sub := &redisSubscription{
		pubsub:     pubsub,
		channel:    channel,
		deliveries: make(chan Delivery),
		done:       make(chan struct{}),
	}
	go sub.pump(context.WithoutCancel(ctx))

	return sub, nil
}

// Close cleans up resources
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub     *redis.PubSub
	channel    string
	deliveries chan Delivery
	done       chan struct{}
	once       sync.Once
	err        error
}

func (s *redisSubscription) Deliveries() <-chan Delivery {
	return s.deliveries
}

func (s *redisSubscription) Err() error {
	return s.err
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.deliveries)

	for {
		msg, err := s.pubsub.Receive(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.err = fmt.Errorf("%w: receive on %s: %v", ErrBrokerUnavailable, s.channel, err)
			}
			return
		}

		var d Delivery
		switch m := msg.(type) {
		case *redis.Message:
			d = Delivery{Kind: KindMessage, Channel: m.Channel, Payload: []byte(m.Payload)}
		case *redis.Subscription:
			d = Delivery{Kind: KindSubscribe, Channel: m.Channel}
			if m.Kind == "unsubscribe" || m.Kind == "punsubscribe" {
				d.Kind = KindUnsubscribe
			}
		case *redis.Pong:
			d = Delivery{Kind: KindPong, Channel: s.channel}
		default:
			continue
		}

		select {
		case s.deliveries <- d:
		case <-s.done:
			return
		}
	}
}

// Unsubscribe releases the channel and the subscription's connection. It is
// safe to call more than once; only the first call does any work.
func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = errors.Join(
			s.pubsub.Unsubscribe(ctx, s.channel),
			s.pubsub.Close(),
		)
	})
	return err
}
