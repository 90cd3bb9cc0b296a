package opener

import (
	"sync"
	"time"
)

// LockTable is the duplicate-open safeguard: an expiring in-memory
// reservation per market, taken when an opening order is submitted and
// consulted before submitting another. It only guards against
// re-entrant opens while an order is still settling; it is not
// persisted.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]time.Time // market -> expiry
	now   func() time.Time
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Lock reserves a market for the given cool-down window.
func (t *LockTable) Lock(market string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks[market] = t.now().Add(ttl)
}

// Locked reports whether a market is still under cool-down.
func (t *LockTable) Locked(market string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.locks[market]
	if !ok {
		return false
	}
	if t.now().After(expiry) {
		delete(t.locks, market)
		return false
	}
	return true
}

// Prune drops expired reservations and returns the active count.
func (t *LockTable) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for market, expiry := range t.locks {
		if now.After(expiry) {
			delete(t.locks, market)
		}
	}
	return len(t.locks)
}
