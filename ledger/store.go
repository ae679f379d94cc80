/*
store.go - Persistence interfaces for the reconciliation engine

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage; the engine only
  sees these interfaces.

KEY CONTRACTS:
  - Due uniqueness: InsertDues must reject a second due for the same
    (tenant, member, category, period). The engine pre-filters, the store
    enforces.
  - Reference uniqueness: InsertPayments must reject duplicate references.
    This is the idempotency backstop for retried bulk operations.
  - Conditional updates: UpdateDue and SaveBalance are compare-and-swap on
    the Version field and return ErrConcurrentModification on conflict.
    The source system lost updates under concurrent handlers; versioned
    writes plus the engine's per-member locks close that hole.
  - Audit is append-only: no update, no delete. Ever.

TRANSACTIONS:
  WithTx executes fn against a transactional view. A balance change and
  its audit entry must commit together or not at all.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - ledger/store/memory.go: in-memory for tests/dev
*/
package ledger

import "context"

// =============================================================================
// DUE STORE
// =============================================================================

type DueStore interface {
	// InsertDues persists a batch atomically. Fails the whole batch if any
	// (tenant, member, category, period) already exists.
	InsertDues(ctx context.Context, dues []Due) error

	// GetDue returns a due or ErrNotFound.
	GetDue(ctx context.Context, id DueID) (*Due, error)

	// UpdateDue is a conditional write: it matches on (ID, Version),
	// bumps Version, and returns ErrConcurrentModification on a miss.
	UpdateDue(ctx context.Context, due Due) error

	// DuesForPeriod returns existing dues for (category, period) among the
	// given members. Used to compute duplicate-generation skips.
	DuesForPeriod(ctx context.Context, tenant TenantID, category CategoryID, period Period, members []MemberID) ([]Due, error)

	// OpenDues returns a member's unpaid/partial dues ordered by period
	// ascending (oldest first).
	OpenDues(ctx context.Context, tenant TenantID, member MemberID) ([]Due, error)

	// OpenDuesByCategory returns unpaid/partial dues in one category for a
	// set of members, ordered by period ascending.
	OpenDuesByCategory(ctx context.Context, tenant TenantID, category CategoryID, members []MemberID) ([]Due, error)

	// DuesInYear returns all of a member's dues in a calendar year for one
	// category. Used by the yearly cap validator.
	DuesInYear(ctx context.Context, tenant TenantID, member MemberID, category CategoryID, year int) ([]Due, error)
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

type PaymentStore interface {
	// InsertPayments persists a batch atomically. Fails with
	// ErrDuplicateReference if any reference already exists.
	InsertPayments(ctx context.Context, payments []Payment) error

	// GetPayment returns a payment or ErrNotFound.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// FindPaymentByReference looks a payment up by its idempotency code.
	// Returns ErrNotFound when absent.
	FindPaymentByReference(ctx context.Context, tenant TenantID, reference string) (*Payment, error)

	// UpdatePayment writes status/settlement fields by ID. Payments
	// transition once, so no version check is needed here.
	UpdatePayment(ctx context.Context, p Payment) error

	// PaymentsInYear returns a member's payments settled in a calendar
	// year. Used by the yearly cap validator.
	PaymentsInYear(ctx context.Context, tenant TenantID, member MemberID, year int) ([]Payment, error)
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

type AllocationStore interface {
	InsertAllocations(ctx context.Context, allocs []Allocation) error

	// AllocationsForDue returns every allocation row touching a due,
	// regardless of the owning payment's current status. Reversal filters
	// by payment status itself.
	AllocationsForDue(ctx context.Context, due DueID) ([]Allocation, error)

	AllocationsForPayment(ctx context.Context, payment PaymentID) ([]Allocation, error)
}

// =============================================================================
// BALANCE STORE
// =============================================================================

type BalanceStore interface {
	// GetBalance returns nil (not an error) when the member has no balance
	// row yet - rows are created lazily on first credit.
	GetBalance(ctx context.Context, tenant TenantID, member MemberID) (*MemberBalance, error)

	// GetBalances is the batched read used by the bulk due generator.
	// Members without a row are simply absent from the map.
	GetBalances(ctx context.Context, tenant TenantID, members []MemberID) (map[MemberID]MemberBalance, error)

	// SaveBalance inserts when Version == 0, otherwise performs a
	// conditional update on Version and returns ErrConcurrentModification
	// on a miss. Version is bumped on success.
	SaveBalance(ctx context.Context, b MemberBalance) error
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditTrail(ctx context.Context, tenant TenantID, member MemberID) ([]AuditEntry, error)
}

// =============================================================================
// ROSTER STORE - Collaborator data (categories, members)
// =============================================================================

type RosterStore interface {
	SaveCategory(ctx context.Context, c Category) error
	GetCategory(ctx context.Context, tenant TenantID, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context, tenant TenantID) ([]Category, error)

	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, tenant TenantID, id MemberID) (*Member, error)
	ActiveMembers(ctx context.Context, tenant TenantID) ([]Member, error)

	// FilterMembers reports which of the given IDs exist in the tenant.
	FilterMembers(ctx context.Context, tenant TenantID, ids []MemberID) (map[MemberID]bool, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	DueStore
	PaymentStore
	AllocationStore
	BalanceStore
	AuditStore
	RosterStore
}

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction is rolled back, otherwise committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
