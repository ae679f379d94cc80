/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements every persistence interface the engine consumes (DueStore,
  PaymentStore, AllocationStore, BalanceStore, AuditStore, RosterStore)
  on SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  dues:        one obligation per (tenant, member, category, period)
  payments:    monetary transactions, reference unique per tenant
  allocations: which payment put how much on which due
  balances:    one advance-credit row per (tenant, member)
  audit_log:   append-only reconciliation trail (no UPDATE, no DELETE)
  categories / members: collaborator data the engine validates against

CONDITIONAL WRITES:
  UpdateDue and SaveBalance match on the version column and bump it;
  zero rows affected maps to ledger.ErrConcurrentModification via
  ConflictError. This is the cross-instance half of the concurrency
  story - per-member locks in the engine are the in-process half.

MONEY AND TIME:
  Decimal amounts are stored as TEXT and re-parsed on read; REAL would
  silently corrupt a financial ledger. Timestamps are RFC3339 TEXT.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/dues-engine/ledger"
)

// Store implements ledger.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Dues (one obligation per member/category/period)
	CREATE TABLE IF NOT EXISTS dues (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		period TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		advance_applied_total TEXT NOT NULL,
		waived_amount TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one due per (tenant, member, category, period).
	-- Retried bulk generation relies on this to turn duplicates into skips.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_dues_unique
		ON dues(tenant_id, member_id, category_id, period);

	CREATE INDEX IF NOT EXISTS idx_dues_member_status
		ON dues(tenant_id, member_id, status);
	CREATE INDEX IF NOT EXISTS idx_dues_category_period
		ON dues(tenant_id, category_id, period);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		channel TEXT NOT NULL,
		linked_due_id TEXT,
		advance_applied_amount TEXT NOT NULL,
		reference TEXT NOT NULL,
		approval_state TEXT NOT NULL,
		approval_requested_at TEXT,
		approval_approved_at TEXT,
		approval_approved_by TEXT,
		created_at TEXT NOT NULL,
		settled_at TEXT
	);

	-- CRITICAL: reference is the idempotency code. One per tenant, ever.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_reference
		ON payments(tenant_id, reference);

	CREATE INDEX IF NOT EXISTS idx_payments_member
		ON payments(tenant_id, member_id);
	CREATE INDEX IF NOT EXISTS idx_payments_settled
		ON payments(tenant_id, member_id, settled_at)
		WHERE settled_at IS NOT NULL;

	-- Allocations (payment -> due, exact amount applied)
	CREATE TABLE IF NOT EXISTS allocations (
		payment_id TEXT NOT NULL,
		due_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (payment_id, due_id)
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_due
		ON allocations(due_id);

	-- Balances (advance credit, one row per member)
	CREATE TABLE IF NOT EXISTS balances (
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		advance_balance TEXT NOT NULL,
		version INTEGER NOT NULL,
		last_reconciled_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, member_id)
	);

	-- Audit log (append-only: no UPDATE, no DELETE, ever)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_member
		ON audit_log(tenant_id, member_id, created_at);

	-- Categories (collaborator data)
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		amount TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		generation_day INTEGER NOT NULL DEFAULT 1,
		yearly_cap TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Members (roster)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_active
		ON members(tenant_id, active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DUE STORE
// =============================================================================

func (s *Store) InsertDues(ctx context.Context, dues []ledger.Due) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertDues(ctx, sqlTx, dues); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func insertDues(ctx context.Context, db dbtx, dues []ledger.Due) error {
	query := `
		INSERT INTO dues
		(id, tenant_id, member_id, category_id, period, amount, paid_amount,
		 status, advance_applied_total, waived_amount, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, d := range dues {
		_, err := db.ExecContext(ctx, query,
			d.ID, d.TenantID, d.MemberID, d.CategoryID,
			d.Period.String(),
			d.Amount.String(),
			d.PaidAmount.String(),
			d.Status,
			d.AdvanceAppliedTotal.String(),
			d.WaivedAmount.String(),
			d.Version,
			d.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Another run created this due first; the batch rolls back
				// and a retry reports the member as a skip.
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert due: %w", err)
		}
	}
	return nil
}

func (s *Store) GetDue(ctx context.Context, id ledger.DueID) (*ledger.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDue(ctx, s.db, id)
}

func getDue(ctx context.Context, db dbtx, id ledger.DueID) (*ledger.Due, error) {
	row := db.QueryRowContext(ctx, selectDue+" WHERE id = ?", id)
	due, err := scanDueRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get due: %w", err)
	}
	return due, nil
}

func (s *Store) UpdateDue(ctx context.Context, due ledger.Due) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDue(ctx, s.db, due)
}

func updateDue(ctx context.Context, db dbtx, due ledger.Due) error {
	query := `
		UPDATE dues
		SET paid_amount = ?, status = ?, advance_applied_total = ?,
		    waived_amount = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		due.PaidAmount.String(), due.Status,
		due.AdvanceAppliedTotal.String(), due.WaivedAmount.String(),
		due.ID, due.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update due: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or the version moved underneath us.
		if _, err := getDue(ctx, db, due.ID); err != nil {
			return err
		}
		return &ledger.ConflictError{Kind: "due", Key: string(due.ID)}
	}
	return nil
}

func (s *Store) DuesForPeriod(ctx context.Context, tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) ([]ledger.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return duesForPeriod(ctx, s.db, tenant, category, period, members)
}

func duesForPeriod(ctx context.Context, db dbtx, tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) ([]ledger.Due, error) {
	if len(members) == 0 {
		return nil, nil
	}
	query := selectDue + `
		WHERE tenant_id = ? AND category_id = ? AND period = ?
		  AND member_id IN (` + placeholders(len(members)) + `)`
	args := []any{tenant, category, period.String()}
	for _, m := range members {
		args = append(args, m)
	}
	return queryDues(ctx, db, query, args...)
}

func (s *Store) OpenDues(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return openDues(ctx, s.db, tenant, member)
}

func openDues(ctx context.Context, db dbtx, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.Due, error) {
	query := selectDue + `
		WHERE tenant_id = ? AND member_id = ? AND status != 'paid'
		ORDER BY period ASC, created_at ASC`
	return queryDues(ctx, db, query, tenant, member)
}

func (s *Store) OpenDuesByCategory(ctx context.Context, tenant ledger.TenantID, category ledger.CategoryID, members []ledger.MemberID) ([]ledger.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return openDuesByCategory(ctx, s.db, tenant, category, members)
}

func openDuesByCategory(ctx context.Context, db dbtx, tenant ledger.TenantID, category ledger.CategoryID, members []ledger.MemberID) ([]ledger.Due, error) {
	if len(members) == 0 {
		return nil, nil
	}
	query := selectDue + `
		WHERE tenant_id = ? AND category_id = ? AND status != 'paid'
		  AND member_id IN (` + placeholders(len(members)) + `)
		ORDER BY period ASC, created_at ASC`
	args := []any{tenant, category}
	for _, m := range members {
		args = append(args, m)
	}
	return queryDues(ctx, db, query, args...)
}

func (s *Store) DuesInYear(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID, year int) ([]ledger.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return duesInYear(ctx, s.db, tenant, member, category, year)
}

func duesInYear(ctx context.Context, db dbtx, tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID, year int) ([]ledger.Due, error) {
	// Periods are stored as "YYYY-MM" so a prefix match selects the year.
	query := selectDue + `
		WHERE tenant_id = ? AND member_id = ? AND category_id = ?
		  AND period LIKE ?
		ORDER BY period ASC`
	return queryDues(ctx, db, query, tenant, member, category, fmt.Sprintf("%04d-%%", year))
}

const selectDue = `
	SELECT id, tenant_id, member_id, category_id, period, amount, paid_amount,
	       status, advance_applied_total, waived_amount, version, created_at
	FROM dues`

func queryDues(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Due, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dues: %w", err)
	}
	defer rows.Close()

	var dues []ledger.Due
	for rows.Next() {
		due, err := scanDueRow(rows)
		if err != nil {
			return nil, err
		}
		dues = append(dues, *due)
	}
	return dues, rows.Err()
}

// scannable lets one scan function serve *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanDueRow(row scannable) (*ledger.Due, error) {
	var (
		d                  ledger.Due
		period             string
		amount, paid       string
		advTotal, waived   string
		createdAt          string
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.MemberID, &d.CategoryID, &period,
		&amount, &paid, &d.Status, &advTotal, &waived, &d.Version, &createdAt)
	if err != nil {
		return nil, err
	}

	d.Period, err = ledger.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("failed to parse period %q: %w", period, err)
	}
	d.Amount = ledger.MustMoney(amount)
	d.PaidAmount = ledger.MustMoney(paid)
	d.AdvanceAppliedTotal = ledger.MustMoney(advTotal)
	d.WaivedAmount = ledger.MustMoney(waived)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) InsertPayments(ctx context.Context, payments []ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertPayments(ctx, sqlTx, payments); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func insertPayments(ctx context.Context, db dbtx, payments []ledger.Payment) error {
	query := `
		INSERT INTO payments
		(id, tenant_id, member_id, amount, status, channel, linked_due_id,
		 advance_applied_amount, reference, approval_state,
		 approval_requested_at, approval_approved_at, approval_approved_by,
		 created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, p := range payments {
		state := p.Approval.State
		if state == "" {
			state = ledger.ApprovalNone
		}
		var linked *string
		if p.LinkedDueID != nil {
			v := string(*p.LinkedDueID)
			linked = &v
		}
		_, err := db.ExecContext(ctx, query,
			p.ID, p.TenantID, p.MemberID,
			p.Amount.String(), p.Status, p.Channel,
			linked,
			p.AdvanceAppliedAmount.String(),
			p.Reference,
			state,
			nullTime(p.Approval.RequestedAt),
			nullTime(p.Approval.ApprovedAt),
			nullString(p.Approval.ApprovedBy),
			p.CreatedAt.Format(time.RFC3339),
			nullTime(p.SettledAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrDuplicateReference
			}
			return fmt.Errorf("failed to insert payment: %w", err)
		}
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, db dbtx, id ledger.PaymentID) (*ledger.Payment, error) {
	row := db.QueryRowContext(ctx, selectPayment+" WHERE id = ?", id)
	p, err := scanPaymentRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Store) FindPaymentByReference(ctx context.Context, tenant ledger.TenantID, reference string) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPaymentByReference(ctx, s.db, tenant, reference)
}

func findPaymentByReference(ctx context.Context, db dbtx, tenant ledger.TenantID, reference string) (*ledger.Payment, error) {
	row := db.QueryRowContext(ctx, selectPayment+" WHERE tenant_id = ? AND reference = ?", tenant, reference)
	p, err := scanPaymentRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePayment(ctx, s.db, p)
}

func updatePayment(ctx context.Context, db dbtx, p ledger.Payment) error {
	var linked *string
	if p.LinkedDueID != nil {
		v := string(*p.LinkedDueID)
		linked = &v
	}
	query := `
		UPDATE payments
		SET status = ?, linked_due_id = ?, advance_applied_amount = ?,
		    approval_state = ?, approval_requested_at = ?,
		    approval_approved_at = ?, approval_approved_by = ?, settled_at = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query,
		p.Status, linked, p.AdvanceAppliedAmount.String(),
		p.Approval.State,
		nullTime(p.Approval.RequestedAt),
		nullTime(p.Approval.ApprovedAt),
		nullString(p.Approval.ApprovedBy),
		nullTime(p.SettledAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) PaymentsInYear(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID, year int) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsInYear(ctx, s.db, tenant, member, year)
}

func paymentsInYear(ctx context.Context, db dbtx, tenant ledger.TenantID, member ledger.MemberID, year int) ([]ledger.Payment, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	query := selectPayment + `
		WHERE tenant_id = ? AND member_id = ?
		  AND settled_at IS NOT NULL AND settled_at >= ? AND settled_at < ?
		ORDER BY settled_at ASC`
	return queryPayments(ctx, db, query, tenant, member,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

const selectPayment = `
	SELECT id, tenant_id, member_id, amount, status, channel, linked_due_id,
	       advance_applied_amount, reference, approval_state,
	       approval_requested_at, approval_approved_at, approval_approved_by,
	       created_at, settled_at
	FROM payments`

func queryPayments(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPaymentRow(row scannable) (*ledger.Payment, error) {
	var (
		p           ledger.Payment
		amount, adv string
		linked      sql.NullString
		reqAt       sql.NullString
		apprAt      sql.NullString
		apprBy      sql.NullString
		createdAt   string
		settledAt   sql.NullString
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.MemberID, &amount, &p.Status,
		&p.Channel, &linked, &adv, &p.Reference, &p.Approval.State,
		&reqAt, &apprAt, &apprBy, &createdAt, &settledAt)
	if err != nil {
		return nil, err
	}

	p.Amount = ledger.MustMoney(amount)
	p.AdvanceAppliedAmount = ledger.MustMoney(adv)
	if linked.Valid {
		id := ledger.DueID(linked.String)
		p.LinkedDueID = &id
	}
	p.Approval.RequestedAt = parseTimePtr(reqAt)
	p.Approval.ApprovedAt = parseTimePtr(apprAt)
	p.Approval.ApprovedBy = apprBy.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.SettledAt = parseTimePtr(settledAt)
	return &p, nil
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (s *Store) InsertAllocations(ctx context.Context, allocs []ledger.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAllocations(ctx, s.db, allocs)
}

func insertAllocations(ctx context.Context, db dbtx, allocs []ledger.Allocation) error {
	query := `
		INSERT INTO allocations (payment_id, due_id, amount, created_at)
		VALUES (?, ?, ?, ?)
	`
	for _, a := range allocs {
		_, err := db.ExecContext(ctx, query,
			a.PaymentID, a.DueID, a.Amount.String(),
			a.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}
	return nil
}

func (s *Store) AllocationsForDue(ctx context.Context, due ledger.DueID) ([]ledger.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAllocations(ctx, s.db, "due_id = ?", due)
}

func (s *Store) AllocationsForPayment(ctx context.Context, payment ledger.PaymentID) ([]ledger.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAllocations(ctx, s.db, "payment_id = ?", payment)
}

func queryAllocations(ctx context.Context, db dbtx, where string, arg any) ([]ledger.Allocation, error) {
	query := `
		SELECT payment_id, due_id, amount, created_at
		FROM allocations WHERE ` + where + ` ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []ledger.Allocation
	for rows.Next() {
		var (
			a         ledger.Allocation
			amount    string
			createdAt string
		)
		if err := rows.Scan(&a.PaymentID, &a.DueID, &amount, &createdAt); err != nil {
			return nil, err
		}
		a.Amount = ledger.MustMoney(amount)
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) (*ledger.MemberBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, tenant, member)
}

func getBalance(ctx context.Context, db dbtx, tenant ledger.TenantID, member ledger.MemberID) (*ledger.MemberBalance, error) {
	var (
		b       ledger.MemberBalance
		balance string
		lastAt  string
	)
	err := db.QueryRowContext(ctx, `
		SELECT tenant_id, member_id, advance_balance, version, last_reconciled_at
		FROM balances WHERE tenant_id = ? AND member_id = ?`,
		tenant, member,
	).Scan(&b.TenantID, &b.MemberID, &balance, &b.Version, &lastAt)
	if err == sql.ErrNoRows {
		// Rows are created lazily on first credit; absence is not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	b.AdvanceBalance = ledger.MustMoney(balance)
	b.LastReconciledAt, _ = time.Parse(time.RFC3339, lastAt)
	return &b, nil
}

func (s *Store) GetBalances(ctx context.Context, tenant ledger.TenantID, members []ledger.MemberID) (map[ledger.MemberID]ledger.MemberBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalances(ctx, s.db, tenant, members)
}

func getBalances(ctx context.Context, db dbtx, tenant ledger.TenantID, members []ledger.MemberID) (map[ledger.MemberID]ledger.MemberBalance, error) {
	out := make(map[ledger.MemberID]ledger.MemberBalance, len(members))
	if len(members) == 0 {
		return out, nil
	}
	query := `
		SELECT tenant_id, member_id, advance_balance, version, last_reconciled_at
		FROM balances
		WHERE tenant_id = ? AND member_id IN (` + placeholders(len(members)) + `)`
	args := []any{tenant}
	for _, m := range members {
		args = append(args, m)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b       ledger.MemberBalance
			balance string
			lastAt  string
		)
		if err := rows.Scan(&b.TenantID, &b.MemberID, &balance, &b.Version, &lastAt); err != nil {
			return nil, err
		}
		b.AdvanceBalance = ledger.MustMoney(balance)
		b.LastReconciledAt, _ = time.Parse(time.RFC3339, lastAt)
		out[b.MemberID] = b
	}
	return out, rows.Err()
}

func (s *Store) SaveBalance(ctx context.Context, b ledger.MemberBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, b)
}

func saveBalance(ctx context.Context, db dbtx, b ledger.MemberBalance) error {
	lastAt := b.LastReconciledAt.Format(time.RFC3339)

	if b.Version == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO balances (tenant_id, member_id, advance_balance, version, last_reconciled_at)
			VALUES (?, ?, ?, 1, ?)`,
			b.TenantID, b.MemberID, b.AdvanceBalance.String(), lastAt,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &ledger.ConflictError{Kind: "balance", Key: string(b.MemberID)}
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE balances
		SET advance_balance = ?, version = version + 1, last_reconciled_at = ?
		WHERE tenant_id = ? AND member_id = ? AND version = ?`,
		b.AdvanceBalance.String(), lastAt, b.TenantID, b.MemberID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.ConflictError{Kind: "balance", Key: string(b.MemberID)}
	}
	return nil
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db dbtx, entry ledger.AuditEntry) error {
	detailsJSON, _ := json.Marshal(entry.Details)
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, member_id, subject_id, action, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.MemberID, entry.SubjectID,
		entry.Action, string(detailsJSON),
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AuditTrail(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditTrail(ctx, s.db, tenant, member)
}

func auditTrail(ctx context.Context, db dbtx, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, member_id, subject_id, action, details_json, created_at
		FROM audit_log
		WHERE tenant_id = ? AND member_id = ?
		ORDER BY created_at ASC, id ASC`,
		tenant, member,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e           ledger.AuditEntry
			detailsJSON sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.MemberID, &e.SubjectID,
			&e.Action, &detailsJSON, &createdAt); err != nil {
			return nil, err
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &e.Details)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ROSTER STORE
// =============================================================================

func (s *Store) SaveCategory(ctx context.Context, c ledger.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCategory(ctx, s.db, c)
}

func saveCategory(ctx context.Context, db dbtx, c ledger.Category) error {
	var capStr *string
	if c.YearlyCap != nil {
		v := c.YearlyCap.String()
		capStr = &v
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, name, active, amount, recurring, generation_day, yearly_cap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			amount = excluded.amount,
			recurring = excluded.recurring,
			generation_day = excluded.generation_day,
			yearly_cap = excluded.yearly_cap`,
		c.ID, c.TenantID, c.Name, c.Active,
		c.Amount.String(), c.Recurring, c.GenerationDay, capStr,
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, tenant ledger.TenantID, id ledger.CategoryID) (*ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCategory(ctx, s.db, tenant, id)
}

func getCategory(ctx context.Context, db dbtx, tenant ledger.TenantID, id ledger.CategoryID) (*ledger.Category, error) {
	row := db.QueryRowContext(ctx, selectCategory+" WHERE tenant_id = ? AND id = ?", tenant, id)
	c, err := scanCategoryRow(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context, tenant ledger.TenantID) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectCategory+" WHERE tenant_id = ? ORDER BY name", tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []ledger.Category
	for rows.Next() {
		c, err := scanCategoryRow(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, *c)
	}
	return cats, rows.Err()
}

const selectCategory = `
	SELECT id, tenant_id, name, active, amount, recurring, generation_day, yearly_cap, created_at
	FROM categories`

func scanCategoryRow(row scannable) (*ledger.Category, error) {
	var (
		c         ledger.Category
		amount    string
		capStr    sql.NullString
		createdAt string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Active, &amount,
		&c.Recurring, &c.GenerationDay, &capStr, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Amount = ledger.MustMoney(amount)
	if capStr.Valid {
		v := ledger.MustMoney(capStr.String)
		c.YearlyCap = &v
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (s *Store) SaveMember(ctx context.Context, m ledger.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveMember(ctx, s.db, m)
}

func saveMember(ctx context.Context, db dbtx, m ledger.Member) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO members (id, tenant_id, name, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active`,
		m.ID, m.TenantID, m.Name, m.Active,
		m.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, tenant ledger.TenantID, id ledger.MemberID) (*ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMember(ctx, s.db, tenant, id)
}

func getMember(ctx context.Context, db dbtx, tenant ledger.TenantID, id ledger.MemberID) (*ledger.Member, error) {
	var (
		m         ledger.Member
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, tenant_id, name, active, created_at FROM members WHERE tenant_id = ? AND id = ?",
		tenant, id,
	).Scan(&m.ID, &m.TenantID, &m.Name, &m.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func (s *Store) ActiveMembers(ctx context.Context, tenant ledger.TenantID) ([]ledger.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeMembers(ctx, s.db, tenant)
}

func activeMembers(ctx context.Context, db dbtx, tenant ledger.TenantID) ([]ledger.Member, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, tenant_id, name, active, created_at FROM members WHERE tenant_id = ? AND active ORDER BY name",
		tenant,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []ledger.Member
	for rows.Next() {
		var (
			m         ledger.Member
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Active, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) FilterMembers(ctx context.Context, tenant ledger.TenantID, ids []ledger.MemberID) (map[ledger.MemberID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterMembers(ctx, s.db, tenant, ids)
}

func filterMembers(ctx context.Context, db dbtx, tenant ledger.TenantID, ids []ledger.MemberID) (map[ledger.MemberID]bool, error) {
	out := make(map[ledger.MemberID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := "SELECT id FROM members WHERE tenant_id = ? AND id IN (" + placeholders(len(ids)) + ")"
	args := []any{tenant}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id ledger.MemberID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. The write lock is
// held for the duration, which serializes writers the same way WAL does.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open transaction. It must not
// touch the parent's public methods - the parent's mutex is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertDues(ctx context.Context, dues []ledger.Due) error {
	return insertDues(ctx, ts.tx, dues)
}

func (ts *txStore) GetDue(ctx context.Context, id ledger.DueID) (*ledger.Due, error) {
	return getDue(ctx, ts.tx, id)
}

func (ts *txStore) UpdateDue(ctx context.Context, due ledger.Due) error {
	return updateDue(ctx, ts.tx, due)
}

func (ts *txStore) DuesForPeriod(ctx context.Context, tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) ([]ledger.Due, error) {
	return duesForPeriod(ctx, ts.tx, tenant, category, period, members)
}

func (ts *txStore) OpenDues(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.Due, error) {
	return openDues(ctx, ts.tx, tenant, member)
}

func (ts *txStore) OpenDuesByCategory(ctx context.Context, tenant ledger.TenantID, category ledger.CategoryID, members []ledger.MemberID) ([]ledger.Due, error) {
	return openDuesByCategory(ctx, ts.tx, tenant, category, members)
}

func (ts *txStore) DuesInYear(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID, year int) ([]ledger.Due, error) {
	return duesInYear(ctx, ts.tx, tenant, member, category, year)
}

func (ts *txStore) InsertPayments(ctx context.Context, payments []ledger.Payment) error {
	return insertPayments(ctx, ts.tx, payments)
}

func (ts *txStore) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) FindPaymentByReference(ctx context.Context, tenant ledger.TenantID, reference string) (*ledger.Payment, error) {
	return findPaymentByReference(ctx, ts.tx, tenant, reference)
}

func (ts *txStore) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	return updatePayment(ctx, ts.tx, p)
}

func (ts *txStore) PaymentsInYear(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID, year int) ([]ledger.Payment, error) {
	return paymentsInYear(ctx, ts.tx, tenant, member, year)
}

func (ts *txStore) InsertAllocations(ctx context.Context, allocs []ledger.Allocation) error {
	return insertAllocations(ctx, ts.tx, allocs)
}

func (ts *txStore) AllocationsForDue(ctx context.Context, due ledger.DueID) ([]ledger.Allocation, error) {
	return queryAllocations(ctx, ts.tx, "due_id = ?", due)
}

func (ts *txStore) AllocationsForPayment(ctx context.Context, payment ledger.PaymentID) ([]ledger.Allocation, error) {
	return queryAllocations(ctx, ts.tx, "payment_id = ?", payment)
}

func (ts *txStore) GetBalance(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) (*ledger.MemberBalance, error) {
	return getBalance(ctx, ts.tx, tenant, member)
}

func (ts *txStore) GetBalances(ctx context.Context, tenant ledger.TenantID, members []ledger.MemberID) (map[ledger.MemberID]ledger.MemberBalance, error) {
	return getBalances(ctx, ts.tx, tenant, members)
}

func (ts *txStore) SaveBalance(ctx context.Context, b ledger.MemberBalance) error {
	return saveBalance(ctx, ts.tx, b)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) AuditTrail(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	return auditTrail(ctx, ts.tx, tenant, member)
}

func (ts *txStore) SaveCategory(ctx context.Context, c ledger.Category) error {
	return saveCategory(ctx, ts.tx, c)
}

func (ts *txStore) GetCategory(ctx context.Context, tenant ledger.TenantID, id ledger.CategoryID) (*ledger.Category, error) {
	return getCategory(ctx, ts.tx, tenant, id)
}

func (ts *txStore) ListCategories(ctx context.Context, tenant ledger.TenantID) ([]ledger.Category, error) {
	rows, err := ts.tx.QueryContext(ctx, selectCategory+" WHERE tenant_id = ? ORDER BY name", tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []ledger.Category
	for rows.Next() {
		c, err := scanCategoryRow(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, *c)
	}
	return cats, rows.Err()
}

func (ts *txStore) SaveMember(ctx context.Context, m ledger.Member) error {
	return saveMember(ctx, ts.tx, m)
}

func (ts *txStore) GetMember(ctx context.Context, tenant ledger.TenantID, id ledger.MemberID) (*ledger.Member, error) {
	return getMember(ctx, ts.tx, tenant, id)
}

func (ts *txStore) ActiveMembers(ctx context.Context, tenant ledger.TenantID) ([]ledger.Member, error) {
	return activeMembers(ctx, ts.tx, tenant)
}

func (ts *txStore) FilterMembers(ctx context.Context, tenant ledger.TenantID, ids []ledger.MemberID) (map[ledger.MemberID]bool, error) {
	return filterMembers(ctx, ts.tx, tenant, ids)
}

// Interface checks.
var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

