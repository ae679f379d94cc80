// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type dueKey struct {
	Tenant   ledger.TenantID
	Member   ledger.MemberID
	Category ledger.CategoryID
	Period   ledger.Period
}

type refKey struct {
	Tenant    ledger.TenantID
	Reference string
}

type memberKey struct {
	Tenant ledger.TenantID
	Member ledger.MemberID
}

type categoryKey struct {
	Tenant   ledger.TenantID
	Category ledger.CategoryID
}

type Memory struct {
	mu          sync.RWMutex
	dues        map[ledger.DueID]ledger.Due
	dueIndex    map[dueKey]ledger.DueID
	payments    map[ledger.PaymentID]ledger.Payment
	paymentRefs map[refKey]ledger.PaymentID
	allocations []ledger.Allocation
	balances    map[memberKey]ledger.MemberBalance
	audit       []ledger.AuditEntry
	categories  map[categoryKey]ledger.Category
	members     map[memberKey]ledger.Member
}

func NewMemory() *Memory {
	return &Memory{
		dues:        make(map[ledger.DueID]ledger.Due),
		dueIndex:    make(map[dueKey]ledger.DueID),
		payments:    make(map[ledger.PaymentID]ledger.Payment),
		paymentRefs: make(map[refKey]ledger.PaymentID),
		balances:    make(map[memberKey]ledger.MemberBalance),
		categories:  make(map[categoryKey]ledger.Category),
		members:     make(map[memberKey]ledger.Member),
	}
}

func keyOf(d ledger.Due) dueKey {
	return dueKey{Tenant: d.TenantID, Member: d.MemberID, Category: d.CategoryID, Period: d.Period}
}

// =============================================================================
// DUE STORE
// =============================================================================

func (m *Memory) InsertDues(_ context.Context, dues []ledger.Due) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertDuesLocked(dues)
}

func (m *Memory) insertDuesLocked(dues []ledger.Due) error {
	// Check the whole batch before writing anything (atomic insert).
	seen := make(map[dueKey]bool, len(dues))
	for _, d := range dues {
		k := keyOf(d)
		if seen[k] {
			return ledger.ErrConcurrentModification
		}
		if _, exists := m.dueIndex[k]; exists {
			return ledger.ErrConcurrentModification
		}
		seen[k] = true
	}
	for _, d := range dues {
		m.dues[d.ID] = d
		m.dueIndex[keyOf(d)] = d.ID
	}
	return nil
}

func (m *Memory) GetDue(_ context.Context, id ledger.DueID) (*ledger.Due, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDueLocked(id)
}

func (m *Memory) getDueLocked(id ledger.DueID) (*ledger.Due, error) {
	d, ok := m.dues[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := d
	return &cp, nil
}

func (m *Memory) UpdateDue(_ context.Context, due ledger.Due) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDueLocked(due)
}

func (m *Memory) updateDueLocked(due ledger.Due) error {
	current, ok := m.dues[due.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	if current.Version != due.Version {
		return &ledger.ConflictError{Kind: "due", Key: string(due.ID)}
	}
	due.Version++
	m.dues[due.ID] = due
	return nil
}

func (m *Memory) DuesForPeriod(_ context.Context, tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) ([]ledger.Due, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duesForPeriodLocked(tenant, category, period, members), nil
}

func (m *Memory) duesForPeriodLocked(tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) []ledger.Due {
	var out []ledger.Due
	for _, member := range members {
		k := dueKey{Tenant: tenant, Member: member, Category: category, Period: period}
		if id, ok := m.dueIndex[k]; ok {
			out = append(out, m.dues[id])
		}
	}
	return out
}

func (m *Memory) OpenDues(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.Due, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openDuesLocked(tenant, member, ""), nil
}

func (m *Memory) openDuesLocked(tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID) []ledger.Due {
	var out []ledger.Due
	for _, d := range m.dues {
		if d.TenantID != tenant || d.MemberID != member || !d.Open() {
			continue
		}
		if category != "" && d.CategoryID != category {
			continue
		}
		out = append(out, d)
	}
	sortDuesByPeriod(out)
	return out
}

func (m *Memory) OpenDuesByCategory(_ context.Context, tenant ledger.TenantID, category ledger.CategoryID, members []ledger.MemberID) ([]ledger.Due, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[ledger.MemberID]bool, len(members))
	for _, id := range members {
		want[id] = true
	}
	var out []ledger.Due
	for _, d := range m.dues {
		if d.TenantID == tenant && d.CategoryID == category && d.Open() && want[d.MemberID] {
			out = append(out, d)
		}
	}
	sortDuesByPeriod(out)
	return out, nil
}

func (m *Memory) DuesInYear(_ context.Context, tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID, year int) ([]ledger.Due, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Due
	for _, d := range m.dues {
		if d.TenantID == tenant && d.MemberID == member && d.CategoryID == category && d.Period.Year == year {
			out = append(out, d)
		}
	}
	sortDuesByPeriod(out)
	return out, nil
}

func sortDuesByPeriod(dues []ledger.Due) {
	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].Period.Equal(dues[j].Period) {
			return dues[i].Period.Before(dues[j].Period)
		}
		return dues[i].ID < dues[j].ID
	})
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (m *Memory) InsertPayments(_ context.Context, payments []ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPaymentsLocked(payments)
}

func (m *Memory) insertPaymentsLocked(payments []ledger.Payment) error {
	seen := make(map[refKey]bool, len(payments))
	for _, p := range payments {
		k := refKey{Tenant: p.TenantID, Reference: p.Reference}
		if seen[k] {
			return ledger.ErrDuplicateReference
		}
		if _, exists := m.paymentRefs[k]; exists {
			return ledger.ErrDuplicateReference
		}
		seen[k] = true
	}
	for _, p := range payments {
		m.payments[p.ID] = p
		m.paymentRefs[refKey{Tenant: p.TenantID, Reference: p.Reference}] = p.ID
	}
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

func (m *Memory) getPaymentLocked(id ledger.PaymentID) (*ledger.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *Memory) FindPaymentByReference(_ context.Context, tenant ledger.TenantID, reference string) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.paymentRefs[refKey{Tenant: tenant, Reference: reference}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return m.getPaymentLocked(id)
}

func (m *Memory) UpdatePayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePaymentLocked(p)
}

func (m *Memory) updatePaymentLocked(p ledger.Payment) error {
	if _, ok := m.payments[p.ID]; !ok {
		return ledger.ErrNotFound
	}
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) PaymentsInYear(_ context.Context, tenant ledger.TenantID, member ledger.MemberID, year int) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Payment
	for _, p := range m.payments {
		if p.TenantID != tenant || p.MemberID != member {
			continue
		}
		if p.SettledAt != nil && p.SettledAt.Year() == year {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (m *Memory) InsertAllocations(_ context.Context, allocs []ledger.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations = append(m.allocations, allocs...)
	return nil
}

func (m *Memory) AllocationsForDue(_ context.Context, due ledger.DueID) ([]ledger.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsForDueLocked(due), nil
}

func (m *Memory) allocationsForDueLocked(due ledger.DueID) []ledger.Allocation {
	var out []ledger.Allocation
	for _, a := range m.allocations {
		if a.DueID == due {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) AllocationsForPayment(_ context.Context, payment ledger.PaymentID) ([]ledger.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Allocation
	for _, a := range m.allocations {
		if a.PaymentID == payment {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) (*ledger.MemberBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(tenant, member), nil
}

func (m *Memory) getBalanceLocked(tenant ledger.TenantID, member ledger.MemberID) *ledger.MemberBalance {
	b, ok := m.balances[memberKey{Tenant: tenant, Member: member}]
	if !ok {
		return nil
	}
	cp := b
	return &cp
}

func (m *Memory) GetBalances(_ context.Context, tenant ledger.TenantID, members []ledger.MemberID) (map[ledger.MemberID]ledger.MemberBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ledger.MemberID]ledger.MemberBalance)
	for _, id := range members {
		if b, ok := m.balances[memberKey{Tenant: tenant, Member: id}]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (m *Memory) SaveBalance(_ context.Context, b ledger.MemberBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBalanceLocked(b)
}

func (m *Memory) saveBalanceLocked(b ledger.MemberBalance) error {
	k := memberKey{Tenant: b.TenantID, Member: b.MemberID}
	current, exists := m.balances[k]
	if b.Version == 0 {
		if exists {
			return &ledger.ConflictError{Kind: "balance", Key: string(b.MemberID)}
		}
	} else if !exists || current.Version != b.Version {
		return &ledger.ConflictError{Kind: "balance", Key: string(b.MemberID)}
	}
	b.Version++
	m.balances[k] = b
	return nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.AuditEntry
	for _, e := range m.audit {
		if e.TenantID == tenant && e.MemberID == member {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// ROSTER STORE
// =============================================================================

func (m *Memory) SaveCategory(_ context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[categoryKey{Tenant: c.TenantID, Category: c.ID}] = c
	return nil
}

func (m *Memory) GetCategory(_ context.Context, tenant ledger.TenantID, id ledger.CategoryID) (*ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[categoryKey{Tenant: tenant, Category: id}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (m *Memory) ListCategories(_ context.Context, tenant ledger.TenantID) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Category
	for _, c := range m.categories {
		if c.TenantID == tenant {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveMember(_ context.Context, mem ledger.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey{Tenant: mem.TenantID, Member: mem.ID}] = mem
	return nil
}

func (m *Memory) GetMember(_ context.Context, tenant ledger.TenantID, id ledger.MemberID) (*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[memberKey{Tenant: tenant, Member: id}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := mem
	return &cp, nil
}

func (m *Memory) ActiveMembers(_ context.Context, tenant ledger.TenantID) ([]ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Member
	for _, mem := range m.members {
		if mem.TenantID == tenant && mem.Active {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) FilterMembers(_ context.Context, tenant ledger.TenantID, ids []ledger.MemberID) (map[ledger.MemberID]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ledger.MemberID]bool, len(ids))
	for _, id := range ids {
		_, ok := m.members[memberKey{Tenant: tenant, Member: id}]
		out[id] = ok
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	dues        map[ledger.DueID]ledger.Due
	dueIndex    map[dueKey]ledger.DueID
	payments    map[ledger.PaymentID]ledger.Payment
	paymentRefs map[refKey]ledger.PaymentID
	allocations []ledger.Allocation
	balances    map[memberKey]ledger.MemberBalance
	audit       []ledger.AuditEntry
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		dues:        make(map[ledger.DueID]ledger.Due, len(tm.dues)),
		dueIndex:    make(map[dueKey]ledger.DueID, len(tm.dueIndex)),
		payments:    make(map[ledger.PaymentID]ledger.Payment, len(tm.payments)),
		paymentRefs: make(map[refKey]ledger.PaymentID, len(tm.paymentRefs)),
		allocations: append([]ledger.Allocation{}, tm.allocations...),
		balances:    make(map[memberKey]ledger.MemberBalance, len(tm.balances)),
		audit:       append([]ledger.AuditEntry{}, tm.audit...),
	}
	for k, v := range tm.dues {
		s.dues[k] = v
	}
	for k, v := range tm.dueIndex {
		s.dueIndex[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = v
	}
	for k, v := range tm.paymentRefs {
		s.paymentRefs[k] = v
	}
	for k, v := range tm.balances {
		s.balances[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.dues = s.dues
	tm.dueIndex = s.dueIndex
	tm.payments = s.payments
	tm.paymentRefs = s.paymentRefs
	tm.allocations = s.allocations
	tm.balances = s.balances
	tm.audit = s.audit
}

// txMemoryView routes Store calls to the parent's unlocked internals while
// WithTx holds the write lock. Roster data is read-only inside transactions.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) InsertDues(_ context.Context, dues []ledger.Due) error {
	return tv.parent.insertDuesLocked(dues)
}

func (tv *txMemoryView) GetDue(_ context.Context, id ledger.DueID) (*ledger.Due, error) {
	return tv.parent.getDueLocked(id)
}

func (tv *txMemoryView) UpdateDue(_ context.Context, due ledger.Due) error {
	return tv.parent.updateDueLocked(due)
}

func (tv *txMemoryView) DuesForPeriod(_ context.Context, tenant ledger.TenantID, category ledger.CategoryID, period ledger.Period, members []ledger.MemberID) ([]ledger.Due, error) {
	return tv.parent.duesForPeriodLocked(tenant, category, period, members), nil
}

func (tv *txMemoryView) OpenDues(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.Due, error) {
	return tv.parent.openDuesLocked(tenant, member, ""), nil
}

func (tv *txMemoryView) OpenDuesByCategory(ctx context.Context, tenant ledger.TenantID, category ledger.CategoryID, members []ledger.MemberID) ([]ledger.Due, error) {
	want := make(map[ledger.MemberID]bool, len(members))
	for _, id := range members {
		want[id] = true
	}
	var out []ledger.Due
	for _, d := range tv.parent.dues {
		if d.TenantID == tenant && d.CategoryID == category && d.Open() && want[d.MemberID] {
			out = append(out, d)
		}
	}
	sortDuesByPeriod(out)
	return out, nil
}

func (tv *txMemoryView) DuesInYear(_ context.Context, tenant ledger.TenantID, member ledger.MemberID, category ledger.CategoryID, year int) ([]ledger.Due, error) {
	var out []ledger.Due
	for _, d := range tv.parent.dues {
		if d.TenantID == tenant && d.MemberID == member && d.CategoryID == category && d.Period.Year == year {
			out = append(out, d)
		}
	}
	sortDuesByPeriod(out)
	return out, nil
}

func (tv *txMemoryView) InsertPayments(_ context.Context, payments []ledger.Payment) error {
	return tv.parent.insertPaymentsLocked(payments)
}

func (tv *txMemoryView) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) FindPaymentByReference(_ context.Context, tenant ledger.TenantID, reference string) (*ledger.Payment, error) {
	id, ok := tv.parent.paymentRefs[refKey{Tenant: tenant, Reference: reference}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) UpdatePayment(_ context.Context, p ledger.Payment) error {
	return tv.parent.updatePaymentLocked(p)
}

func (tv *txMemoryView) PaymentsInYear(_ context.Context, tenant ledger.TenantID, member ledger.MemberID, year int) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, p := range tv.parent.payments {
		if p.TenantID == tenant && p.MemberID == member && p.SettledAt != nil && p.SettledAt.Year() == year {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (tv *txMemoryView) InsertAllocations(_ context.Context, allocs []ledger.Allocation) error {
	tv.parent.allocations = append(tv.parent.allocations, allocs...)
	return nil
}

func (tv *txMemoryView) AllocationsForDue(_ context.Context, due ledger.DueID) ([]ledger.Allocation, error) {
	return tv.parent.allocationsForDueLocked(due), nil
}

func (tv *txMemoryView) AllocationsForPayment(_ context.Context, payment ledger.PaymentID) ([]ledger.Allocation, error) {
	var out []ledger.Allocation
	for _, a := range tv.parent.allocations {
		if a.PaymentID == payment {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tv *txMemoryView) GetBalance(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) (*ledger.MemberBalance, error) {
	return tv.parent.getBalanceLocked(tenant, member), nil
}

func (tv *txMemoryView) GetBalances(_ context.Context, tenant ledger.TenantID, members []ledger.MemberID) (map[ledger.MemberID]ledger.MemberBalance, error) {
	out := make(map[ledger.MemberID]ledger.MemberBalance)
	for _, id := range members {
		if b, ok := tv.parent.balances[memberKey{Tenant: tenant, Member: id}]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (tv *txMemoryView) SaveBalance(_ context.Context, b ledger.MemberBalance) error {
	return tv.parent.saveBalanceLocked(b)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}

func (tv *txMemoryView) AuditTrail(_ context.Context, tenant ledger.TenantID, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	for _, e := range tv.parent.audit {
		if e.TenantID == tenant && e.MemberID == member {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tv *txMemoryView) SaveCategory(_ context.Context, c ledger.Category) error {
	tv.parent.categories[categoryKey{Tenant: c.TenantID, Category: c.ID}] = c
	return nil
}

func (tv *txMemoryView) GetCategory(_ context.Context, tenant ledger.TenantID, id ledger.CategoryID) (*ledger.Category, error) {
	c, ok := tv.parent.categories[categoryKey{Tenant: tenant, Category: id}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (tv *txMemoryView) ListCategories(_ context.Context, tenant ledger.TenantID) ([]ledger.Category, error) {
	var out []ledger.Category
	for _, c := range tv.parent.categories {
		if c.TenantID == tenant {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txMemoryView) SaveMember(_ context.Context, mem ledger.Member) error {
	tv.parent.members[memberKey{Tenant: mem.TenantID, Member: mem.ID}] = mem
	return nil
}

func (tv *txMemoryView) GetMember(_ context.Context, tenant ledger.TenantID, id ledger.MemberID) (*ledger.Member, error) {
	mem, ok := tv.parent.members[memberKey{Tenant: tenant, Member: id}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := mem
	return &cp, nil
}

func (tv *txMemoryView) ActiveMembers(_ context.Context, tenant ledger.TenantID) ([]ledger.Member, error) {
	var out []ledger.Member
	for _, mem := range tv.parent.members {
		if mem.TenantID == tenant && mem.Active {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txMemoryView) FilterMembers(_ context.Context, tenant ledger.TenantID, ids []ledger.MemberID) (map[ledger.MemberID]bool, error) {
	out := make(map[ledger.MemberID]bool, len(ids))
	for _, id := range ids {
		_, ok := tv.parent.members[memberKey{Tenant: tenant, Member: id}]
		out[id] = ok
	}
	return out, nil
}

var _ ledger.TxStore = (*TxMemory)(nil)
var _ ledger.Store = (*txMemoryView)(nil)
