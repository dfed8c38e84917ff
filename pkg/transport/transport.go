package transport

import "context"

// Handler receives the raw payload of a message published to a subscribed
// topic. Handlers must not block for long; adapters may deliver from a single
// receive loop.
type Handler func(payload []byte)

// Subscription represents an active topic subscription
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}

// Transport is the pub/sub port both protocol roles are built against. The
// only delivery guarantee assumed is that messages published to a topic while
// a subscriber is active are eventually delivered to it; confidentiality and
// per-topic ordering are the transport's problem, not the protocol's.
type Transport interface {
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}
