/*
Package engine implements the reconciliation handlers.

PURPOSE:
  The five handler components plus the yearly cap validator:

  - Bulk Due Generator        (generator.go)
  - Bulk Payment Recorder     (recorder.go)
  - Single Payment Reconciler (reconciler.go)
  - Reversal Handler          (reversal.go)
  - Waiver Handler            (waiver.go)
  - Yearly Cap Validator      (cap.go)

  Each executes as an independent short-lived unit of work: read ledger
  state, run the settlement algorithm and/or balance tracker, write back,
  append audit entries.

CONCURRENCY:
  MemberBalance and Due rows are the only mutable shared state. Every
  read-modify-write runs under a per-member lock (locks.go) AND inside a
  store transaction with versioned conditional writes. The original
  system had neither and lost updates when the bulk recorder and the
  webhook reconciler touched the same member concurrently.

SEE ALSO:
  - ledger: domain types, settlement algorithm, store interfaces
  - api: HTTP surface calling into this package
*/
package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/warp/dues-engine/ledger"
)

// DefaultBatchSize bounds the blast radius of a failed bulk insert.
const DefaultBatchSize = 50

// Engine holds the dependencies shared by all handlers.
type Engine struct {
	store     ledger.TxStore
	notifier  Notifier
	locks     *memberLocks
	batchSize int
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize overrides the bulk insert batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithNotifier installs a notification dispatcher. Dispatch is
// fire-and-forget; failures never roll back ledger mutations.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides ID generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func New(store ledger.TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		notifier:  NopNotifier{},
		locks:     newMemberLocks(),
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-only callers (api handlers).
func (e *Engine) Store() ledger.TxStore {
	return e.store
}

func (e *Engine) audit(tenant ledger.TenantID, member ledger.MemberID, subject string, action ledger.AuditAction, details map[string]string) ledger.AuditEntry {
	return ledger.AuditEntry{
		ID:        e.newID(),
		TenantID:  tenant,
		MemberID:  member,
		SubjectID: subject,
		Action:    action,
		Details:   details,
		CreatedAt: e.now(),
	}
}
