// Package broker abstracts the publish/subscribe transport that distributes
// chat events across server processes. Payloads are treated opaquely: the
// bytes handed to Publish are the bytes every subscription yields.
package broker

import "context"

// Subscription is a lazy, cancelable sequence of payloads published to one
// topic. Messages returns the same channel on every call; the channel is
// closed when the subscription ends, whether by Close or by transport
// failure.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker is the publish/subscribe transport. Subscribe must not return until
// the subscription is active, so that no payload published afterwards is
// missed. Both operations may fail transiently; callers decide whether to
// retry.
type Broker interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}
