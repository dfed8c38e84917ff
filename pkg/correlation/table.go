package correlation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSignTimeout is the rejection reason for entries whose deadline passed
	// without a matching response.
	ErrSignTimeout = errors.New("sign request timed out")
	// ErrTableClosed is returned by Add after Close
	ErrTableClosed = errors.New("correlation table is closed")
)

// Result settles one pending request: exactly one of Signature or Err is set
type Result struct {
	Signature string
	Err       error
}

// Table correlates asynchronous responses to in-flight requests by id and
// enforces the per-request sign timeout. A background sweeper rejects entries
// past their deadline; Resolve and Reject settle entries early. Every path
// removes the entry, so a late response for a settled id is simply unknown.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
	logger  *zap.Logger
	done    chan struct{}
	closed  bool
}

type entry struct {
	ch        chan Result
	message   string
	createdAt time.Time
	deadline  time.Time
}

// Config configures a correlation table
type Config struct {
	// Timeout is how long an entry may stay pending
	Timeout time.Duration
	// SweepInterval is the expiry check granularity
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// NewTable creates a table and starts its sweeper
func NewTable(cfg Config) *Table {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t := &Table{
		entries: make(map[string]*entry),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}
	go t.sweep(cfg.SweepInterval)
	return t
}

// Add registers a pending request and returns the channel its Result will be
// delivered on. Request ids are generated fresh per call by the initiator, so
// a duplicate id is a programming error and is rejected.
func (t *Table) Add(id, message string) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTableClosed
	}
	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("duplicate request id %s", id)
	}

	now := time.Now()
	e := &entry{
		ch:        make(chan Result, 1),
		message:   message,
		createdAt: now,
		deadline:  now.Add(t.timeout),
	}
	t.entries[id] = e
	return e.ch, nil
}

// Resolve settles a pending request with a signature. Returns false when the
// id is unknown (already settled, timed out, or never issued).
func (t *Table) Resolve(id, signature string) bool {
	return t.settle(id, Result{Signature: signature})
}

// Reject settles a pending request with an error
func (t *Table) Reject(id string, err error) bool {
	return t.settle(id, Result{Err: err})
}

// Len returns the number of in-flight requests
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close rejects all pending entries with err and stops the sweeper. Further
// Adds fail. Idempotent.
func (t *Table) Close(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	remaining := t.entries
	t.entries = make(map[string]*entry)
	close(t.done)
	t.mu.Unlock()

	for id, e := range remaining {
		e.ch <- Result{Err: err}
		t.logger.Sugar().Debugw("Rejected pending request on close", "request_id", id)
	}
}

func (t *Table) settle(id string, res Result) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.ch <- res
	return true
}

func (t *Table) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.expireBefore(now)
		}
	}
}

func (t *Table) expireBefore(now time.Time) {
	t.mu.Lock()
	var expired []*entry
	var ids []string
	for id, e := range t.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
			ids = append(ids, id)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for i, e := range expired {
		e.ch <- Result{Err: ErrSignTimeout}
		t.logger.Sugar().Infow("Sign request timed out",
			"request_id", ids[i],
			"age", now.Sub(e.createdAt).String(),
		)
	}
}
