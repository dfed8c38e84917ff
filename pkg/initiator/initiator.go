package initiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/correlation"
	"github.com/walletbridge/remote-signer-go/pkg/ethsig"
	"github.com/walletbridge/remote-signer-go/pkg/protocol"
	"github.com/walletbridge/remote-signer-go/pkg/session"
	"github.com/walletbridge/remote-signer-go/pkg/transport"
)

// Sentinel errors. Each timeout domain surfaces its own reason so callers can
// tell "nobody showed up" from "they showed up but never finished".
var (
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrConnectTimeout   = errors.New("timed out waiting for a responder to authenticate")
	ErrAuthTimeout      = errors.New("authentication timed out")
	ErrSessionClosed    = errors.New("signing session closed")

	// ErrSignTimeout re-exported for callers matching sign-request timeouts
	ErrSignTimeout = correlation.ErrSignTimeout
)

// authState is the initiator's authentication sub-state machine
type authState int

const (
	stateIdle authState = iota
	stateAwaitingResponder
	stateChallenging
	stateAuthenticated
	stateFailed
)

// Config configures the initiator role
type Config struct {
	SessionID  string
	WalletType config.WalletType
	Timeouts   config.Timeouts
	Logger     *zap.Logger
}

// Initiator runs the desktop side of the signing bridge: it owns the session
// channel, authenticates the responder with a challenge, and relays signing
// requests to it. One instance serves one session.
type Initiator struct {
	sessionID  string
	topic      string
	walletType config.WalletType
	timeouts   config.Timeouts
	transport  transport.Transport
	logger     *zap.Logger
	pending    *correlation.Table

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	sub            transport.Subscription
	state          authState
	challenge      string
	claimedAddress common.Address
	authTimer      *time.Timer
	connectCh      chan connectResult
	connectDone    bool
	closed         bool
}

type connectResult struct {
	address common.Address
	err     error
}

// NewInitiator creates an initiator for one session
func NewInitiator(cfg *Config, tr transport.Transport) (*Initiator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.IsValidSessionID(cfg.SessionID) {
		return nil, fmt.Errorf("invalid session id: %q", cfg.SessionID)
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.WalletType != config.WalletTypeEOA && cfg.WalletType != config.WalletTypeSCW {
		return nil, fmt.Errorf("unsupported wallet type: %s", cfg.WalletType)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	timeouts := cfg.Timeouts.Normalize()
	ctx, cancel := context.WithCancel(context.Background())

	return &Initiator{
		sessionID:  cfg.SessionID,
		topic:      session.ChannelName(cfg.SessionID),
		walletType: cfg.WalletType,
		timeouts:   timeouts,
		transport:  tr,
		logger:     cfg.Logger,
		pending: correlation.NewTable(correlation.Config{
			Timeout:       timeouts.Sign,
			SweepInterval: timeouts.SweepInterval,
			Logger:        cfg.Logger,
		}),
		ctx:       ctx,
		cancel:    cancel,
		state:     stateIdle,
		connectCh: make(chan connectResult, 1),
	}, nil
}

// SessionID returns the identifier the responder must be given to pair
func (i *Initiator) SessionID() string {
	return i.sessionID
}

// Connect opens the session channel and blocks until a responder announces
// itself and completes the challenge handshake. Resolves with the
// authenticated address, or fails with ErrConnectTimeout, ErrAuthTimeout, an
// authentication error, ErrSessionClosed, or ctx's error.
func (i *Initiator) Connect(ctx context.Context) (common.Address, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return common.Address{}, ErrSessionClosed
	}
	if i.state != stateIdle {
		i.mu.Unlock()
		return common.Address{}, fmt.Errorf("connect already called for session %s", i.sessionID)
	}
	i.state = stateAwaitingResponder
	i.mu.Unlock()

	sub, err := i.transport.Subscribe(ctx, i.topic, i.handleMessage)
	if err != nil {
		i.mu.Lock()
		i.state = stateFailed
		i.mu.Unlock()
		return common.Address{}, fmt.Errorf("failed to open session channel: %w", err)
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		_ = sub.Unsubscribe()
		return common.Address{}, ErrSessionClosed
	}
	i.sub = sub
	i.mu.Unlock()

	i.logger.Sugar().Infow("Session channel open, waiting for responder",
		"session_id", i.sessionID,
		"channel", i.topic,
	)

	connectTimer := time.NewTimer(i.timeouts.Connect)
	defer connectTimer.Stop()

	select {
	case res := <-i.connectCh:
		return res.address, res.err
	case <-connectTimer.C:
		return i.settleConnectLocally(ErrConnectTimeout)
	case <-ctx.Done():
		return i.settleConnectLocally(ctx.Err())
	}
}

// settleConnectLocally resolves the race between a local failure (timeout,
// caller cancellation) and an authentication result that arrived at the same
// moment. The handshake result wins if it was signalled first.
func (i *Initiator) settleConnectLocally(cause error) (common.Address, error) {
	i.mu.Lock()
	if i.connectDone {
		i.mu.Unlock()
		res := <-i.connectCh
		return res.address, res.err
	}
	i.connectDone = true
	if i.state != stateAuthenticated {
		i.state = stateFailed
	}
	i.stopAuthTimerLocked()
	i.mu.Unlock()
	return common.Address{}, cause
}

// IsAuthenticated reports whether the handshake has completed. Monotonic
// until Cleanup.
func (i *Initiator) IsAuthenticated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == stateAuthenticated
}

// RequestSignature relays message to the authenticated responder and blocks
// until the correlated sign-response or sign-error arrives, the sign timeout
// fires, or ctx is cancelled. Valid only after Connect resolves; fails
// immediately with ErrNotAuthenticated otherwise — nothing is published or
// enqueued pre-auth.
func (i *Initiator) RequestSignature(ctx context.Context, message string) (string, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return "", ErrSessionClosed
	}
	if i.state != stateAuthenticated {
		i.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	i.mu.Unlock()

	requestID := uuid.New().String()
	ch, err := i.pending.Add(requestID, message)
	if err != nil {
		return "", err
	}

	req := protocol.SignRequest{
		RequestID: requestID,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := i.publish(ctx, req); err != nil {
		i.pending.Reject(requestID, err)
		<-ch
		return "", fmt.Errorf("failed to publish sign request: %w", err)
	}

	i.logger.Sugar().Debugw("Sign request published",
		"session_id", i.sessionID,
		"request_id", requestID,
	)

	select {
	case res := <-ch:
		return res.Signature, res.Err
	case <-ctx.Done():
		if !i.pending.Reject(requestID, ctx.Err()) {
			// A response raced in before the rejection landed; use it.
			res := <-ch
			return res.Signature, res.Err
		}
		<-ch
		return "", ctx.Err()
	}
}

// Signer returns the capability that binds the authenticated address to
// RequestSignature, for handing to a wallet-client abstraction. Fails before
// authentication completes.
func (i *Initiator) Signer() (*RemoteSigner, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != stateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return &RemoteSigner{address: i.claimedAddress, initiator: i}, nil
}

// Complete notifies the responder the session is over. Best effort; no
// acknowledgement is awaited.
func (i *Initiator) Complete(ctx context.Context) error {
	return i.publish(ctx, protocol.SessionComplete{})
}

// Cleanup unsubscribes, settles every outstanding operation with
// ErrSessionClosed, and makes the instance inert. Idempotent; messages
// delivered afterwards are ignored.
func (i *Initiator) Cleanup() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.stopAuthTimerLocked()
	i.challenge = ""
	sub := i.sub
	i.sub = nil
	i.signalConnectLocked(connectResult{err: ErrSessionClosed})
	i.mu.Unlock()

	i.cancel()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	i.pending.Close(ErrSessionClosed)
	i.logger.Sugar().Infow("Initiator session cleaned up", "session_id", i.sessionID)
}

func (i *Initiator) handleMessage(payload []byte) {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		i.logger.Sugar().Warnw("Dropping undecodable message", "session_id", i.sessionID, "error", err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.ResponderAnnounce:
		i.handleResponderAnnounce(m)
	case protocol.AuthResponse:
		i.handleAuthResponse(m)
	case protocol.SignResponse:
		if !i.pending.Resolve(m.RequestID, m.Signature) {
			i.logger.Sugar().Debugw("Ignoring response for unknown request", "request_id", m.RequestID)
		}
	case protocol.SignError:
		if !i.pending.Reject(m.RequestID, fmt.Errorf("sign request failed: %s", m.Error)) {
			i.logger.Sugar().Debugw("Ignoring error for unknown request", "request_id", m.RequestID)
		}
	default:
		// Responder-bound messages; our own publishes echo back on the
		// shared channel.
	}
}

func (i *Initiator) handleResponderAnnounce(m protocol.ResponderAnnounce) {
	if !common.IsHexAddress(m.Address) {
		i.logger.Sugar().Warnw("Dropping announce with malformed address", "session_id", i.sessionID, "address", m.Address)
		return
	}

	i.mu.Lock()
	if i.closed || (i.state != stateIdle && i.state != stateAwaitingResponder) {
		i.mu.Unlock()
		return
	}
	i.claimedAddress = common.HexToAddress(m.Address)
	i.challenge = fmt.Sprintf("auth:%s:%s:%d", i.sessionID, uuid.New().String(), time.Now().UnixMilli())
	i.state = stateChallenging
	i.authTimer = time.AfterFunc(i.timeouts.Auth, i.onAuthTimeout)
	challenge := i.challenge
	i.mu.Unlock()

	i.logger.Sugar().Infow("Responder announced, issuing challenge",
		"session_id", i.sessionID,
		"address", m.Address,
	)
	if err := i.publish(i.ctx, protocol.AuthChallenge{Challenge: challenge}); err != nil {
		i.logger.Sugar().Errorw("Failed to publish auth challenge", "session_id", i.sessionID, "error", err.Error())
	}
}

func (i *Initiator) handleAuthResponse(m protocol.AuthResponse) {
	i.mu.Lock()
	if i.closed || i.state != stateChallenging {
		i.mu.Unlock()
		return
	}

	verifyErr := ethsig.Verify(i.walletType, i.claimedAddress, i.challenge, m.Signature)
	i.stopAuthTimerLocked()
	i.challenge = ""

	if verifyErr != nil {
		i.state = stateFailed
		authErr := fmt.Errorf("authentication failed: %w", verifyErr)
		i.signalConnectLocked(connectResult{err: authErr})
		i.mu.Unlock()

		i.logger.Sugar().Warnw("Rejected auth response", "session_id", i.sessionID, "error", verifyErr.Error())
		_ = i.publish(i.ctx, protocol.AuthFailed{Error: verifyErr.Error()})
		return
	}

	i.state = stateAuthenticated
	address := i.claimedAddress
	i.signalConnectLocked(connectResult{address: address})
	i.mu.Unlock()

	i.logger.Sugar().Infow("Responder authenticated", "session_id", i.sessionID, "address", address.Hex())
	_ = i.publish(i.ctx, protocol.AuthSuccess{})
}

func (i *Initiator) onAuthTimeout() {
	i.mu.Lock()
	if i.closed || i.state != stateChallenging {
		i.mu.Unlock()
		return
	}
	i.challenge = ""
	i.state = stateFailed
	i.signalConnectLocked(connectResult{err: ErrAuthTimeout})
	i.mu.Unlock()

	i.logger.Sugar().Warnw("Authentication timed out", "session_id", i.sessionID)
	_ = i.publish(i.ctx, protocol.AuthFailed{Error: "Authentication timeout"})
}

// signalConnectLocked delivers the Connect result exactly once. Caller holds mu.
func (i *Initiator) signalConnectLocked(res connectResult) {
	if i.connectDone {
		return
	}
	i.connectDone = true
	i.connectCh <- res
}

func (i *Initiator) stopAuthTimerLocked() {
	if i.authTimer != nil {
		i.authTimer.Stop()
		i.authTimer = nil
	}
}

func (i *Initiator) publish(ctx context.Context, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return i.transport.Publish(ctx, i.topic, payload)
}
