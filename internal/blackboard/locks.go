package blackboard

import (
	"sync"
	"time"
)

// lockTable holds the advisory per-document locks. A lock is held at
// most its TTL; after expiry any future holder may take over and the
// expired holder's release becomes a no-op. Acquisition is reentrant
// for the current holder and refreshes the expiry.
type lockTable struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]*lockEntry
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

func newLockTable(ttl time.Duration) *lockTable {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &lockTable{ttl: ttl, locks: make(map[string]*lockEntry)}
}

// acquire grants the lock on path to holder, or reports the current
// holder when someone else validly holds it.
func (t *lockTable) acquire(path, holder string) (ok bool, heldBy string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	entry, exists := t.locks[path]
	if exists && entry.holder != holder && now.Before(entry.expiresAt) {
		return false, entry.holder
	}

	t.locks[path] = &lockEntry{holder: holder, expiresAt: now.Add(t.ttl)}
	return true, holder
}

// release frees the lock if holder still validly holds it. Releasing
// after expiry, or a lock held by someone else, is a no-op.
func (t *lockTable) release(path, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[path]
	if !exists || entry.holder != holder || time.Now().After(entry.expiresAt) {
		return
	}
	delete(t.locks, path)
}

// holderOf reports the current valid holder, if any
func (t *lockTable) holderOf(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[path]
	if !exists || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.holder, true
}
