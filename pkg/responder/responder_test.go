package responder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletbridge/remote-signer-go/pkg/ethsig"
	"github.com/walletbridge/remote-signer-go/pkg/protocol"
	"github.com/walletbridge/remote-signer-go/pkg/session"
	"github.com/walletbridge/remote-signer-go/pkg/testutil"
	"github.com/walletbridge/remote-signer-go/pkg/transport/inMemoryTransport"
	"github.com/walletbridge/remote-signer-go/pkg/walletSigner"
	"github.com/walletbridge/remote-signer-go/pkg/walletSigner/inMemoryWalletSigner"
)

const testSessionID = "0123456789abcdef0123456789abcdef"

// countingSigner wraps a signer and counts SignMessage invocations
type countingSigner struct {
	walletSigner.IWalletSigner
	calls atomic.Int64
}

func (c *countingSigner) SignMessage(ctx context.Context, message string) (string, error) {
	c.calls.Add(1)
	return c.IWalletSigner.SignMessage(ctx, message)
}

// failingSigner always refuses to sign
type failingSigner struct {
	addr common.Address
}

func (f *failingSigner) Address() common.Address { return f.addr }
func (f *failingSigner) SignMessage(context.Context, string) (string, error) {
	return "", errors.New("user rejected")
}

type harness struct {
	bus       *inMemoryTransport.InMemoryTransport
	responder *Responder
	signer    *countingSigner
	recorder  *testutil.Recorder
	topic     string
}

func newHarness(t *testing.T, cfg *Config, signer walletSigner.IWalletSigner) *harness {
	t.Helper()

	bus := inMemoryTransport.NewInMemoryTransport()
	topic := session.ChannelName(testSessionID)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SessionID = testSessionID
	cfg.Logger = zap.NewNop()

	counting := &countingSigner{IWalletSigner: signer}
	r, err := NewResponder(cfg, bus, counting)
	require.NoError(t, err)
	t.Cleanup(r.Cleanup)

	rec := testutil.NewRecorder(t, bus, topic)
	return &harness{bus: bus, responder: r, signer: counting, recorder: rec, topic: topic}
}

func (h *harness) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	payload, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), h.topic, payload))
	h.bus.Drain()
}

func newWalletSigner(t *testing.T) *inMemoryWalletSigner.InMemoryWalletSigner {
	t.Helper()
	return inMemoryWalletSigner.NewInMemoryWalletSigner(testutil.GenerateTestKey(t), zap.NewNop())
}

func TestConnectAnnounces(t *testing.T) {
	signer := newWalletSigner(t)
	h := newHarness(t, nil, signer)

	require.NoError(t, h.responder.Connect(context.Background()))

	msg, ok := h.recorder.WaitForKind(protocol.TypeResponderAnnounce, time.Second)
	require.True(t, ok, "no announce published")
	require.Equal(t, signer.Address().Hex(), msg.(protocol.ResponderAnnounce).Address)

	t.Run("Second connect fails", func(t *testing.T) {
		require.Error(t, h.responder.Connect(context.Background()))
	})
}

func TestAuthChallengeFlow(t *testing.T) {
	t.Run("Signs and responds", func(t *testing.T) {
		signer := newWalletSigner(t)
		h := newHarness(t, nil, signer)
		require.NoError(t, h.responder.Connect(context.Background()))

		h.send(t, protocol.AuthChallenge{Challenge: "auth:" + testSessionID + ":nonce:1"})

		msg, ok := h.recorder.WaitForKind(protocol.TypeAuthResponse, time.Second)
		require.True(t, ok, "no auth response published")

		recovered, err := ethsig.RecoverAddress("auth:"+testSessionID+":nonce:1", msg.(protocol.AuthResponse).Signature)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), recovered)
	})

	t.Run("Local sign failure publishes nothing", func(t *testing.T) {
		var gotErr atomic.Bool
		cfg := &Config{Callbacks: Callbacks{OnError: func(error) { gotErr.Store(true) }}}
		h := newHarness(t, cfg, &failingSigner{})
		require.NoError(t, h.responder.Connect(context.Background()))

		h.send(t, protocol.AuthChallenge{Challenge: "auth:x:y:1"})

		_, ok := h.recorder.WaitForKind(protocol.TypeAuthResponse, 200*time.Millisecond)
		require.False(t, ok, "auth response published despite sign failure")
		require.True(t, gotErr.Load(), "error not surfaced to caller")
	})
}

func TestAuthResultHandling(t *testing.T) {
	t.Run("AuthSuccess marks authenticated", func(t *testing.T) {
		var authed atomic.Bool
		cfg := &Config{Callbacks: Callbacks{OnAuthenticated: func() { authed.Store(true) }}}
		h := newHarness(t, cfg, newWalletSigner(t))
		require.NoError(t, h.responder.Connect(context.Background()))
		require.False(t, h.responder.IsAuthenticated())

		h.send(t, protocol.AuthSuccess{})

		require.True(t, h.responder.IsAuthenticated())
		require.True(t, authed.Load())
	})

	t.Run("AuthFailed surfaces error", func(t *testing.T) {
		errCh := make(chan error, 1)
		cfg := &Config{Callbacks: Callbacks{OnAuthFailed: func(err error) { errCh <- err }}}
		h := newHarness(t, cfg, newWalletSigner(t))
		require.NoError(t, h.responder.Connect(context.Background()))

		h.send(t, protocol.AuthSuccess{})
		h.send(t, protocol.AuthFailed{Error: "signature recovered to wrong address"})

		require.False(t, h.responder.IsAuthenticated())
		select {
		case err := <-errCh:
			require.EqualError(t, err, "signature recovered to wrong address")
		case <-time.After(time.Second):
			t.Fatal("auth failure not surfaced")
		}
	})
}

func TestSignRequestHandling(t *testing.T) {
	authed := func(t *testing.T, h *harness) {
		t.Helper()
		require.NoError(t, h.responder.Connect(context.Background()))
		h.send(t, protocol.AuthSuccess{})
		require.True(t, h.responder.IsAuthenticated())
	}

	t.Run("Unauthenticated request gets sign-error, signer untouched", func(t *testing.T) {
		h := newHarness(t, nil, newWalletSigner(t))
		require.NoError(t, h.responder.Connect(context.Background()))

		h.send(t, protocol.SignRequest{RequestID: "r1", Message: "hello", Timestamp: time.Now().UnixMilli()})

		msg, ok := h.recorder.WaitForKind(protocol.TypeSignError, time.Second)
		require.True(t, ok)
		require.Equal(t, protocol.SignError{RequestID: "r1", Error: "Not authenticated"}, msg)
		require.EqualValues(t, 0, h.signer.calls.Load(), "signing primitive invoked while unauthenticated")
	})

	t.Run("Stale request rejected regardless of signer", func(t *testing.T) {
		h := newHarness(t, &Config{MaxRequestAge: 50 * time.Millisecond}, newWalletSigner(t))
		authed(t, h)

		stale := time.Now().Add(-time.Minute).UnixMilli()
		h.send(t, protocol.SignRequest{RequestID: "r2", Message: "hello", Timestamp: stale})

		msg, ok := h.recorder.WaitForKind(protocol.TypeSignError, time.Second)
		require.True(t, ok)
		require.Equal(t, protocol.SignError{RequestID: "r2", Error: "Request expired"}, msg)
		require.EqualValues(t, 0, h.signer.calls.Load())
	})

	t.Run("Future-dated request also rejected", func(t *testing.T) {
		h := newHarness(t, &Config{MaxRequestAge: 50 * time.Millisecond}, newWalletSigner(t))
		authed(t, h)

		future := time.Now().Add(time.Minute).UnixMilli()
		h.send(t, protocol.SignRequest{RequestID: "r3", Message: "hello", Timestamp: future})

		msg, ok := h.recorder.WaitForKind(protocol.TypeSignError, time.Second)
		require.True(t, ok)
		require.Equal(t, "Request expired", msg.(protocol.SignError).Error)
	})

	t.Run("Valid request returns recoverable signature", func(t *testing.T) {
		signer := newWalletSigner(t)
		h := newHarness(t, nil, signer)
		authed(t, h)

		h.send(t, protocol.SignRequest{RequestID: "r4", Message: "hello", Timestamp: time.Now().UnixMilli()})

		msg, ok := h.recorder.WaitForKind(protocol.TypeSignResponse, time.Second)
		require.True(t, ok)
		resp := msg.(protocol.SignResponse)
		require.Equal(t, "r4", resp.RequestID)

		recovered, err := ethsig.RecoverAddress("hello", resp.Signature)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), recovered)
	})

	t.Run("Signer failure reported as sign-error", func(t *testing.T) {
		h := newHarness(t, nil, &failingSigner{})
		authed(t, h)

		h.send(t, protocol.SignRequest{RequestID: "r5", Message: "hello", Timestamp: time.Now().UnixMilli()})

		msg, ok := h.recorder.WaitForKind(protocol.TypeSignError, time.Second)
		require.True(t, ok)
		require.Equal(t, protocol.SignError{RequestID: "r5", Error: "user rejected"}, msg)
	})

	t.Run("Rate limited", func(t *testing.T) {
		h := newHarness(t, &Config{RequestsPerSecond: 0.001, RequestBurst: 1}, newWalletSigner(t))
		authed(t, h)

		h.send(t, protocol.SignRequest{RequestID: "r6", Message: "first", Timestamp: time.Now().UnixMilli()})
		h.send(t, protocol.SignRequest{RequestID: "r7", Message: "second", Timestamp: time.Now().UnixMilli()})

		deadline := time.Now().Add(time.Second)
		var got protocol.SignError
		for time.Now().Before(deadline) {
			for _, m := range h.recorder.Messages() {
				if se, ok := m.(protocol.SignError); ok && se.RequestID == "r7" {
					got = se
				}
			}
			if got.RequestID != "" {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		require.Equal(t, "Rate limited", got.Error)
	})
}

func TestSessionComplete(t *testing.T) {
	var completed atomic.Bool
	cfg := &Config{Callbacks: Callbacks{OnComplete: func() { completed.Store(true) }}}
	h := newHarness(t, cfg, newWalletSigner(t))
	require.NoError(t, h.responder.Connect(context.Background()))
	h.send(t, protocol.AuthSuccess{})

	h.send(t, protocol.SessionComplete{})
	require.True(t, completed.Load())

	t.Run("Messages after completion are ignored", func(t *testing.T) {
		h.send(t, protocol.SignRequest{RequestID: "late", Message: "x", Timestamp: time.Now().UnixMilli()})
		_, ok := h.recorder.WaitForKind(protocol.TypeSignError, 200*time.Millisecond)
		require.False(t, ok, "cleaned-up responder still answering")
	})
}

func TestCleanupIdempotent(t *testing.T) {
	h := newHarness(t, nil, newWalletSigner(t))
	require.NoError(t, h.responder.Connect(context.Background()))

	h.responder.Cleanup()
	h.responder.Cleanup()
	require.False(t, h.responder.IsAuthenticated())

	require.ErrorIs(t, h.responder.Connect(context.Background()), ErrClosed)
}

func TestNewResponderValidation(t *testing.T) {
	bus := inMemoryTransport.NewInMemoryTransport()
	signer := newWalletSigner(t)

	t.Run("Nil config", func(t *testing.T) {
		_, err := NewResponder(nil, bus, signer)
		require.Error(t, err)
	})

	t.Run("Bad session id", func(t *testing.T) {
		_, err := NewResponder(&Config{SessionID: "nope"}, bus, signer)
		require.Error(t, err)
	})

	t.Run("Missing transport", func(t *testing.T) {
		_, err := NewResponder(&Config{SessionID: testSessionID}, nil, signer)
		require.Error(t, err)
	})

	t.Run("Missing signer", func(t *testing.T) {
		_, err := NewResponder(&Config{SessionID: testSessionID}, bus, nil)
		require.Error(t, err)
	})
}
