package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/protocol"
	"github.com/walletbridge/remote-signer-go/pkg/session"
	"github.com/walletbridge/remote-signer-go/pkg/transport"
	"github.com/walletbridge/remote-signer-go/pkg/walletSigner"
)

// ErrClosed is returned by Connect after Cleanup
var ErrClosed = errors.New("responder session is closed")

// Error strings reported to the initiator in sign-error messages
const (
	errNotAuthenticated = "Not authenticated"
	errRequestExpired   = "Request expired"
	errRateLimited      = "Rate limited"
)

// Callbacks surface asynchronous session events to the embedding application
// (the mobile wallet UI). All callbacks are optional and are invoked from
// transport goroutines.
type Callbacks struct {
	// OnAuthenticated fires when the initiator accepts our challenge response
	OnAuthenticated func()
	// OnAuthFailed fires when the initiator rejects authentication
	OnAuthFailed func(err error)
	// OnError fires on local failures (e.g. the wallet refused to sign the challenge)
	OnError func(err error)
	// OnComplete fires when the initiator ends the session
	OnComplete func()
}

// Config configures the responder role
type Config struct {
	SessionID     string
	MaxRequestAge time.Duration // replay window for sign-request timestamps; default 5m
	Logger        *zap.Logger
	Callbacks     Callbacks

	// RequestsPerSecond optionally throttles inbound sign-requests; zero
	// disables throttling. Requests over the limit are answered with a
	// sign-error rather than queued.
	RequestsPerSecond float64
	RequestBurst      int
}

// Responder runs the mobile side of the signing bridge: it joins the session
// channel, announces its wallet address, answers the authentication challenge
// with the wallet's signature, and thereafter serves sign-requests.
type Responder struct {
	sessionID string
	topic     string
	transport transport.Transport
	signer    walletSigner.IWalletSigner
	logger    *zap.Logger
	callbacks Callbacks

	maxRequestAge time.Duration
	limiter       *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	sub             transport.Subscription
	isAuthenticated bool
	closed          bool
}

// NewResponder creates a responder for one session
func NewResponder(cfg *Config, tr transport.Transport, signer walletSigner.IWalletSigner) (*Responder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.IsValidSessionID(cfg.SessionID) {
		return nil, fmt.Errorf("invalid session id: %q", cfg.SessionID)
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("wallet signer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	maxAge := cfg.MaxRequestAge
	if maxAge <= 0 {
		maxAge = config.DefaultMaxRequestAge
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		sessionID:     cfg.SessionID,
		topic:         session.ChannelName(cfg.SessionID),
		transport:     tr,
		signer:        signer,
		logger:        cfg.Logger,
		callbacks:     cfg.Callbacks,
		maxRequestAge: maxAge,
		limiter:       limiter,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Connect joins the session channel and announces the wallet address. It
// returns once the announce is published; authentication continues
// asynchronously and is reported through the callbacks.
func (r *Responder) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.sub != nil {
		r.mu.Unlock()
		return fmt.Errorf("already connected to session %s", r.sessionID)
	}
	r.mu.Unlock()

	sub, err := r.transport.Subscribe(ctx, r.topic, r.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to join session channel: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = sub.Unsubscribe()
		return ErrClosed
	}
	r.sub = sub
	r.mu.Unlock()

	announce := protocol.ResponderAnnounce{Address: r.signer.Address().Hex()}
	if err := r.publish(ctx, announce); err != nil {
		return fmt.Errorf("failed to announce: %w", err)
	}

	r.logger.Sugar().Infow("Responder joined session",
		"session_id", r.sessionID,
		"address", r.signer.Address().Hex(),
	)
	return nil
}

// IsAuthenticated reports whether the initiator has accepted our challenge
// response
func (r *Responder) IsAuthenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isAuthenticated
}

// Cleanup unsubscribes and makes the responder inert. Idempotent; messages
// delivered afterwards are ignored.
func (r *Responder) Cleanup() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.isAuthenticated = false
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	r.cancel()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	r.logger.Sugar().Infow("Responder session cleaned up", "session_id", r.sessionID)
}

func (r *Responder) handleMessage(payload []byte) {
	if r.isClosed() {
		return
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		r.logger.Sugar().Warnw("Dropping undecodable message", "session_id", r.sessionID, "error", err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.AuthChallenge:
		r.handleAuthChallenge(m)
	case protocol.AuthSuccess:
		r.handleAuthSuccess()
	case protocol.AuthFailed:
		r.handleAuthFailed(m)
	case protocol.SignRequest:
		r.handleSignRequest(m)
	case protocol.SessionComplete:
		r.handleSessionComplete()
	default:
		// Initiator-bound messages (our own announce and responses echo back
		// on the shared channel).
	}
}

func (r *Responder) handleAuthChallenge(m protocol.AuthChallenge) {
	sig, err := r.signer.SignMessage(r.ctx, m.Challenge)
	if err != nil {
		// Publish nothing; the initiator's auth timeout will fire.
		r.logger.Sugar().Errorw("Wallet failed to sign auth challenge", "session_id", r.sessionID, "error", err.Error())
		r.emitError(fmt.Errorf("failed to sign auth challenge: %w", err))
		return
	}
	if err := r.publish(r.ctx, protocol.AuthResponse{Signature: sig}); err != nil {
		r.emitError(fmt.Errorf("failed to publish auth response: %w", err))
	}
}

func (r *Responder) handleAuthSuccess() {
	r.mu.Lock()
	r.isAuthenticated = true
	r.mu.Unlock()

	r.logger.Sugar().Infow("Responder authenticated", "session_id", r.sessionID)
	if r.callbacks.OnAuthenticated != nil {
		r.callbacks.OnAuthenticated()
	}
}

func (r *Responder) handleAuthFailed(m protocol.AuthFailed) {
	r.mu.Lock()
	r.isAuthenticated = false
	r.mu.Unlock()

	r.logger.Sugar().Warnw("Authentication rejected by initiator", "session_id", r.sessionID, "error", m.Error)
	if r.callbacks.OnAuthFailed != nil {
		r.callbacks.OnAuthFailed(errors.New(m.Error))
	}
}

func (r *Responder) handleSignRequest(m protocol.SignRequest) {
	if !r.IsAuthenticated() {
		r.publishSignError(m.RequestID, errNotAuthenticated)
		return
	}

	age := time.Since(time.UnixMilli(m.Timestamp))
	if age < 0 {
		age = -age
	}
	if age > r.maxRequestAge {
		r.logger.Sugar().Warnw("Rejecting stale sign request",
			"session_id", r.sessionID,
			"request_id", m.RequestID,
			"age", age.String(),
		)
		r.publishSignError(m.RequestID, errRequestExpired)
		return
	}

	if r.limiter != nil && !r.limiter.Allow() {
		r.publishSignError(m.RequestID, errRateLimited)
		return
	}

	// Signing may block on user interaction; serve each request on its own
	// goroutine so outstanding requests stay independent.
	go func() {
		sig, err := r.signer.SignMessage(r.ctx, m.Message)
		if err != nil {
			r.publishSignError(m.RequestID, err.Error())
			return
		}
		if err := r.publish(r.ctx, protocol.SignResponse{RequestID: m.RequestID, Signature: sig}); err != nil {
			r.emitError(fmt.Errorf("failed to publish sign response: %w", err))
		}
	}()
}

func (r *Responder) handleSessionComplete() {
	r.logger.Sugar().Infow("Session completed by initiator", "session_id", r.sessionID)
	if r.callbacks.OnComplete != nil {
		r.callbacks.OnComplete()
	}
	r.Cleanup()
}

func (r *Responder) publishSignError(requestID, errText string) {
	if err := r.publish(r.ctx, protocol.SignError{RequestID: requestID, Error: errText}); err != nil {
		r.emitError(fmt.Errorf("failed to publish sign error: %w", err))
	}
}

func (r *Responder) publish(ctx context.Context, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return r.transport.Publish(ctx, r.topic, payload)
}

func (r *Responder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Responder) emitError(err error) {
	if r.callbacks.OnError != nil {
		r.callbacks.OnError(err)
	}
}
