package inMemoryTransport

import (
	"context"
	"sync"

	"github.com/walletbridge/remote-signer-go/pkg/transport"
)

// InMemoryTransport is an in-process pub/sub bus. Both roles can share one
// instance in tests and demos; delivery is asynchronous so a handler that
// publishes back onto the same topic cannot deadlock the bus.
type InMemoryTransport struct {
	mu     sync.Mutex
	topics map[string]map[int]*subscriber
	nextID int
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	handler transport.Handler
}

type subscription struct {
	bus   *InMemoryTransport
	topic string
	id    int
	once  sync.Once
}

// NewInMemoryTransport creates an empty bus
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		topics: make(map[string]map[int]*subscriber),
	}
}

// Subscribe registers a handler for a topic
func (b *InMemoryTransport) Subscribe(_ context.Context, topic string, h transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = &subscriber{handler: h}

	return &subscription{bus: b, topic: topic, id: id}, nil
}

// Publish delivers payload to every active subscriber of topic. Each handler
// runs on its own goroutine with its own copy of the payload.
func (b *InMemoryTransport) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		b.wg.Add(1)
		go func(s *subscriber, buf []byte) {
			defer b.wg.Done()
			s.handler(buf)
		}(s, buf)
	}
	return nil
}

// Drain blocks until all in-flight deliveries have completed. Test helper.
func (b *InMemoryTransport) Drain() {
	b.wg.Wait()
}

// SubscriberCount reports the number of active subscriptions on a topic.
// Test helper.
func (b *InMemoryTransport) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs := s.bus.topics[s.topic]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.bus.topics, s.topic)
			}
		}
	})
	return nil
}
