package broker

import (
	"context"
	"errors"
	"sync"
)

// subscriberBuffer bounds how many undelivered payloads one subscription can
// hold before the publisher starts dropping for it.
const subscriberBuffer = 64

var errBrokerClosed = errors.New("broker is closed")

// Memory is an in-process Broker. It backs single-process deployments and
// tests; cross-process fanout needs the Redis implementation.
type Memory struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[*memorySubscription]struct{})}
}

// Subscribe registers a new subscription for topic. The subscription is live
// before Subscribe returns.
func (m *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errBrokerClosed
	}

	sub := &memorySubscription{
		broker: m,
		topic:  topic,
		ch:     make(chan []byte, subscriberBuffer),
	}

	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[*memorySubscription]struct{})
		m.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	return sub, nil
}

// Publish delivers payload to every current subscription for topic.
// Non-blocking: a subscription whose buffer is full misses this payload.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errBrokerClosed
	}

	for sub := range m.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			// subscriber buffer full, drop for this subscriber
		}
	}
	return nil
}

// SubscriberCount reports how many subscriptions are live for topic.
func (m *Memory) SubscriberCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics[topic])
}

// Close shuts the broker down and ends every open subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(m.topics, topic)
	}
	return nil
}

type memorySubscription struct {
	broker *Memory
	topic  string
	ch     chan []byte
	once   sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		m := s.broker
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		if subs, ok := m.topics[s.topic]; ok {
			if _, live := subs[s]; live {
				delete(subs, s)
				close(s.ch)
			}
			if len(subs) == 0 {
				delete(m.topics, s.topic)
			}
		}
	})
	return nil
}
