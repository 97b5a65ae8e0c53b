package registry

import (
	"context"
	"time"

	"github.com/parley-chat/parley/internal/broker"
)

// dispatch is the fanout loop for one topic. It drains the topic's broker
// subscription and relays each payload, unchanged, to the registered sockets
// until ctx is canceled. Payloads are opaque at this layer: whatever the
// publish side serialized is what every socket receives.
//
// sub may be nil when the initial subscribe failed; the loop then retries
// with backoff until it succeeds or the topic is closed. A subscription whose
// channel closes unexpectedly (broker connection loss) is retried the same
// way.
func (r *Registry) dispatch(ctx context.Context, topic string, sub broker.Subscription, done chan struct{}) {
	defer close(done)

	for {
		if sub == nil {
			sub = r.resubscribe(ctx, topic)
			if sub == nil {
				return
			}
		}

		r.drain(ctx, topic, sub)
		_ = sub.Close()
		sub = nil

		if ctx.Err() != nil {
			return
		}
		r.log.Warn().Str("topic", topic).Msg("broker subscription ended, resubscribing")
	}
}

// drain relays payloads in strict arrival order until the subscription ends
// or ctx is canceled. Cancellation is bounded by one in-flight receive.
func (r *Registry) drain(ctx context.Context, topic string, sub broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			r.Broadcast(topic, payload)
		}
	}
}

// resubscribe attempts to reopen the topic's subscription with exponential
// backoff. It returns nil only when ctx is canceled first.
func (r *Registry) resubscribe(ctx context.Context, topic string) broker.Subscription {
	backoff := r.retryBase
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		sub, err := r.broker.Subscribe(ctx, topic)
		if err == nil {
			r.log.Info().Str("topic", topic).Msg("broker subscription restored")
			return sub
		}
		r.log.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).
			Msg("broker subscribe failed, delivery degraded")

		backoff *= 2
		if backoff > r.retryMax {
			backoff = r.retryMax
		}
	}
}
