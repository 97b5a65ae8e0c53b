package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is a Broker over Redis pub/sub, which is what makes fanout work
// across multiple server processes: every process subscribed to a
// conversation channel receives every payload published to it.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		log:    log.With().Str("component", "broker").Logger(),
	}
}

// DialRedis connects to the Redis instance at url (redis://... form) and
// verifies the connection with a ping before returning.
func DialRedis(ctx context.Context, url string, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedis(client, log), nil
}

// Subscribe opens a Redis subscription on topic. The confirmation reply is
// awaited before returning, so nothing published after Subscribe returns can
// be missed.
func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.relay(pubsub.Channel())

	r.log.Debug().Str("topic", topic).Msg("subscribed")
	return sub, nil
}

// Publish sends payload to topic.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// relay copies payloads from the go-redis channel until it closes, which
// happens when the subscription is closed or the connection is lost. The done
// channel unblocks a relay stuck on a full buffer after the consumer is gone,
// so closing a busy subscription never strands the goroutine.
func (s *redisSubscription) relay(in <-chan *redis.Message) {
	defer close(s.ch)
	for msg := range in {
		select {
		case s.ch <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.ch }

func (s *redisSubscription) Close() error {
	s.stop()
	return s.pubsub.Close()
}

func (s *redisSubscription) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}
