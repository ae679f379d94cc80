package engine

import (
	"sort"
	"sync"

	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// PER-MEMBER LOCKS
// =============================================================================
// Handlers serialize per member: the read-modify-write of a member's
// balance and dues must not interleave with another handler touching the
// same member. Locks are process-wide; across instances the store's
// versioned conditional writes are the second line of defense.

type lockKey struct {
	Tenant ledger.TenantID
	Member ledger.MemberID
}

type memberLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

func newMemberLocks() *memberLocks {
	return &memberLocks{locks: make(map[lockKey]*sync.Mutex)}
}

func (ml *memberLocks) get(k lockKey) *sync.Mutex {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	l, ok := ml.locks[k]
	if !ok {
		l = &sync.Mutex{}
		ml.locks[k] = l
	}
	return l
}

// Lock acquires the lock for one member and returns the unlock function.
func (ml *memberLocks) Lock(tenant ledger.TenantID, member ledger.MemberID) func() {
	l := ml.get(lockKey{Tenant: tenant, Member: member})
	l.Lock()
	return l.Unlock
}

// LockAll acquires locks for a set of members in sorted order, which keeps
// two overlapping bulk operations from deadlocking. Returns the combined
// unlock function.
func (ml *memberLocks) LockAll(tenant ledger.TenantID, members []ledger.MemberID) func() {
	sorted := make([]ledger.MemberID, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	unlocks := make([]func(), 0, len(sorted))
	for _, m := range sorted {
		l := ml.get(lockKey{Tenant: tenant, Member: m})
		l.Lock()
		unlocks = append(unlocks, l.Unlock)
	}
	return func() {
		// Release in reverse acquisition order.
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
