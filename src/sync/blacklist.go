package sync

import (
	"sync"
	"time"
)

// Blacklist tracks peers that misbehaved, for a cool-off interval each.
// Incompatible peers (fork beyond the rollback cap) and peers that served
// invalid data land here; blacklisted peers are skipped when sampling.
type Blacklist struct {
	mu    sync.Mutex
	until map[uint32]time.Time
	clock func() time.Time
}

// NewBlacklist creates a blacklist on the given clock.
func NewBlacklist(clock func() time.Time) *Blacklist {
	if clock == nil {
		clock = time.Now
	}
	return &Blacklist{
		until: make(map[uint32]time.Time),
		clock: clock,
	}
}

// Add blacklists a peer for the given interval.
func (b *Blacklist) Add(peerID uint32, interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until[peerID] = b.clock().Add(interval)
}

// Contains reports whether a peer is currently blacklisted. Expired entries
// are cleaned up on the way.
func (b *Blacklist) Contains(peerID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline, ok := b.until[peerID]
	if !ok {
		return false
	}
	if b.clock().After(deadline) {
		delete(b.until, peerID)
		return false
	}
	return true
}
