package testutil

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/protocol"
	"github.com/walletbridge/remote-signer-go/pkg/transport"
)

// GenerateTestKey creates a fresh secp256k1 key for a test wallet
func GenerateTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate test key: %v", err)
	}
	return key
}

// ShortTimeouts returns a timeout set scaled down for tests
func ShortTimeouts() config.Timeouts {
	return config.Timeouts{
		Connect:       2 * time.Second,
		Auth:          2 * time.Second,
		Sign:          2 * time.Second,
		MaxRequestAge: 2 * time.Second,
		SweepInterval: 10 * time.Millisecond,
	}
}

// Recorder subscribes to a topic and keeps every protocol message delivered
// to it, for asserting on what a role actually published.
type Recorder struct {
	mu       sync.Mutex
	messages []protocol.Message
}

// NewRecorder subscribes a recorder to topic
func NewRecorder(t *testing.T, tr transport.Transport, topic string) *Recorder {
	t.Helper()
	r := &Recorder{}
	sub, err := tr.Subscribe(context.Background(), topic, func(payload []byte) {
		msg, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.messages = append(r.messages, msg)
		r.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Failed to subscribe recorder: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return r
}

// Messages returns a snapshot of everything recorded so far
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// CountKind returns how many recorded messages have the given type
func (r *Recorder) CountKind(kind protocol.MessageType) int {
	n := 0
	for _, m := range r.Messages() {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

// WaitForKind polls until a message of the given type has been recorded or
// the deadline passes; returns the first match and whether one was found.
func (r *Recorder) WaitForKind(kind protocol.MessageType, timeout time.Duration) (protocol.Message, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range r.Messages() {
			if m.Kind() == kind {
				return m, true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}
