// Package registry tracks which client sockets are subscribed to which
// conversation topic and owns one broker subscription plus one fanout
// dispatcher per active topic.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/broker"
)

// Socket is one live client connection as the registry sees it. Send must not
// block; it returns an error when the socket can no longer accept payloads,
// which causes the registry to drop it. Close tears down the underlying
// connection and is invoked during registry shutdown.
type Socket interface {
	Send(payload []byte) error
	Close() error
}

// entry is the per-topic state: the registered sockets and the cancellation
// handle for the dispatcher that owns the topic's broker subscription.
type entry struct {
	sockets map[Socket]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Registry maps conversation topics to their registered sockets. A broker
// subscription exists for a topic exactly while its socket set is non-empty:
// the first Register starts it, the last Unregister tears it down.
//
// A single mutex serializes all map mutations. Broker publishes and socket
// sends happen outside the lock.
type Registry struct {
	broker broker.Broker
	log    zerolog.Logger

	mu     sync.Mutex
	topics map[string]*entry

	retryBase time.Duration
	retryMax  time.Duration
}

// New creates an empty registry backed by the given broker.
func New(b broker.Broker, log zerolog.Logger) *Registry {
	return &Registry{
		broker:    b,
		log:       log.With().Str("component", "registry").Logger(),
		topics:    make(map[string]*entry),
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

// Register adds socket to topic's set. On the first socket for a topic the
// broker subscription is started before Register returns, so no payload
// published afterwards can be missed. Registration never fails the caller: a
// broker error leaves the topic in a degraded state that the dispatcher
// retries with backoff.
func (r *Registry) Register(topic string, socket Socket) {
	r.mu.Lock()
	e, ok := r.topics[topic]
	if ok {
		e.sockets[socket] = struct{}{}
		count := len(e.sockets)
		r.mu.Unlock()
		r.log.Debug().Str("topic", topic).Int("sockets", count).Msg("socket registered")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e = &entry{
		sockets: map[Socket]struct{}{socket: {}},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.topics[topic] = e

	sub, err := r.broker.Subscribe(ctx, topic)
	r.mu.Unlock()

	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("broker subscribe failed, delivery degraded")
		sub = nil
	}
	go r.dispatch(ctx, topic, sub, e.done)

	r.log.Debug().Str("topic", topic).Int("sockets", 1).Msg("socket registered, topic opened")
}

// Unregister removes socket from topic's set. Removing the last socket
// cancels the topic's dispatcher, which releases the broker subscription.
// Idempotent: unknown topics and already-removed sockets are no-ops.
func (r *Registry) Unregister(topic string, socket Socket) {
	r.mu.Lock()
	e, ok := r.topics[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := e.sockets[socket]; !ok {
		r.mu.Unlock()
		return
	}

	delete(e.sockets, socket)
	count := len(e.sockets)
	if count == 0 {
		delete(r.topics, topic)
	}
	r.mu.Unlock()

	if count == 0 {
		e.cancel()
		r.log.Debug().Str("topic", topic).Msg("last socket unregistered, topic closed")
		return
	}
	r.log.Debug().Str("topic", topic).Int("sockets", count).Msg("socket unregistered")
}

// Broadcast delivers payload to the current snapshot of topic's sockets. A
// socket whose Send fails is unregistered; the remaining sockets still
// receive the payload and the caller never sees the failure.
func (r *Registry) Broadcast(topic string, payload []byte) {
	r.mu.Lock()
	e, ok := r.topics[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	sockets := make([]Socket, 0, len(e.sockets))
	for s := range e.sockets {
		sockets = append(sockets, s)
	}
	r.mu.Unlock()

	for _, s := range sockets {
		if err := s.Send(payload); err != nil {
			r.log.Warn().Err(err).Str("topic", topic).Msg("dropping unresponsive socket")
			r.Unregister(topic, s)
		}
	}
}

// SocketCount reports how many sockets are registered for topic.
func (r *Registry) SocketCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.topics[topic]
	if !ok {
		return 0
	}
	return len(e.sockets)
}

// ActiveTopics returns the topics that currently have registered sockets.
func (r *Registry) ActiveTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Close cancels every topic dispatcher, closes every registered socket, and
// waits for the dispatchers to release their subscriptions, or for ctx to
// expire. Used during server shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.topics))
	for topic, e := range r.topics {
		entries = append(entries, e)
		delete(r.topics, topic)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		for s := range e.sockets {
			if err := s.Close(); err != nil {
				r.log.Debug().Err(err).Msg("error closing socket")
			}
		}
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
