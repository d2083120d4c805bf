package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/model"
)

// ErrDeltaActive is returned by Delta when another delta is live. The lock
// has try-lock semantics: the second writer fails instead of blocking.
var ErrDeltaActive = errors.New("cache: a delta is already active")

// Sub-cache names. The global state hash folds per-cache merkle roots in
// exactly this order.
const (
	AccountCacheName    = "AccountState"
	HashLockCacheName   = "HashLockInfo"
	MosaicCacheName     = "Mosaic"
	NamespaceCacheName  = "Namespace"
	SecretLockCacheName = "SecretLockInfo"
)

// CatapultCache aggregates every state cache and is the single authority for
// snapshots, deltas and the global state hash.
type CatapultCache struct {
	mu          sync.Mutex
	deltaActive bool
	height      uint64
	verifiable  bool

	accounts    *deltaset.BaseSet
	hashLocks   *deltaset.BaseSet
	mosaics     *deltaset.BaseSet
	namespaces  *deltaset.BaseSet
	secretLocks *deltaset.BaseSet
}

// NewCatapultCache creates an empty cache set. When verifiable is false all
// state hashes report zero; light configurations and most tests run in this
// mode.
func NewCatapultCache(verifiable bool) *CatapultCache {
	return &CatapultCache{
		verifiable: verifiable,
		accounts: deltaset.NewBaseSet(AccountCacheName, func(v interface{}) interface{} {
			return v.(*AccountState).clone()
		}),
		hashLocks: deltaset.NewBaseSet(HashLockCacheName, func(v interface{}) interface{} {
			return v.(*HashLockInfo).clone()
		}),
		mosaics: deltaset.NewBaseSet(MosaicCacheName, func(v interface{}) interface{} {
			return v.(*MosaicEntry).clone()
		}),
		namespaces: deltaset.NewBaseSet(NamespaceCacheName, func(v interface{}) interface{} {
			return v.(*NamespaceEntry).clone()
		}),
		secretLocks: deltaset.NewBaseSet(SecretLockCacheName, func(v interface{}) interface{} {
			return v.(*SecretLockInfo).clone()
		}),
	}
}

// Height returns the height of the last commit.
func (c *CatapultCache) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Verifiable indicates whether state hashing is enabled.
func (c *CatapultCache) Verifiable() bool {
	return c.verifiable
}

// View returns a read-only snapshot of the committed state. Any number of
// views may exist concurrently; a view keeps observing its snapshot across
// later commits because commits replace the entry maps instead of mutating
// them.
func (c *CatapultCache) View() *View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &View{
		height:      c.height,
		verifiable:  c.verifiable,
		accounts:    c.accounts.Entries(),
		hashLocks:   c.hashLocks.Entries(),
		mosaics:     c.mosaics.Entries(),
		namespaces:  c.namespaces.Entries(),
		secretLocks: c.secretLocks.Entries(),
	}
}

// Delta returns the unique mutable overlay over the committed state. It fails
// with ErrDeltaActive while another delta is live.
func (c *CatapultCache) Delta() (*Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deltaActive {
		return nil, ErrDeltaActive
	}
	c.deltaActive = true

	return c.newDelta(false), nil
}

// DetachedDelta returns an independent mutable overlay over the committed
// state. It does not take the delta lock, is safe to hand to another
// goroutine, and is never reconciled back. Speculative work (harvesting, peer
// chain evaluation) runs on detached deltas.
func (c *CatapultCache) DetachedDelta() *Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.newDelta(true)
}

func (c *CatapultCache) newDelta(detached bool) *Delta {
	return &Delta{
		cache:      c,
		detached:   detached,
		baseHeight: c.height,
		Accounts:   &AccountDelta{set: c.accounts.NewDelta()},
		HashLocks:  &HashLockDelta{set: c.hashLocks.NewDelta()},
		Mosaics:    &MosaicDelta{set: c.mosaics.NewDelta()},
		Namespaces: &NamespaceDelta{set: c.namespaces.NewDelta()},
		SecretLocks: &SecretLockDelta{
			set: c.secretLocks.NewDelta(),
		},
	}
}

// Commit atomically applies the delta, advances the commit counter to height
// and prunes expired lock entries per boundary. The delta is invalidated.
// Committing a detached delta is a programming error.
func (c *CatapultCache) Commit(d *Delta, height uint64, boundary deltaset.PruningBoundary) error {
	if d.detached {
		return fmt.Errorf("cache: cannot commit a detached delta")
	}
	if d.invalid {
		return fmt.Errorf("cache: delta already committed or rolled back")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.deltaActive {
		return fmt.Errorf("cache: no active delta to commit")
	}

	var pruneLocks func(key string, value interface{}) bool
	if boundary.IsSet() {
		pruneLocks = func(key string, value interface{}) bool {
			switch lock := value.(type) {
			case *HashLockInfo:
				return lock.ExpirationHeight <= boundary.Value()
			case *SecretLockInfo:
				return lock.ExpirationHeight <= boundary.Value()
			}
			return false
		}
	}

	c.accounts.Commit(d.Accounts.set, nil)
	c.hashLocks.Commit(d.HashLocks.set, pruneLocks)
	c.mosaics.Commit(d.Mosaics.set, nil)
	c.namespaces.Commit(d.Namespaces.set, nil)
	c.secretLocks.Commit(d.SecretLocks.set, pruneLocks)

	c.height = height
	c.deltaActive = false
	d.invalid = true

	return nil
}

// Rollback discards the delta without touching the committed state.
func (c *CatapultCache) Rollback(d *Delta) {
	if d.detached {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.deltaActive = false
	d.invalid = true
}

// StateHash computes the merkle-rooted hash over the committed content of all
// caches, or zero when verifiable state is disabled.
func (c *CatapultCache) StateHash() model.Hash {
	return c.View().StateHash()
}

// subCacheHash hashes one cache: leaves are SHA256(key || entry bytes) in
// ascending key order; the cache hash is their merkle root.
func subCacheHash(entries map[string]interface{}, keys []string) []byte {
	leaves := make([][]byte, 0, len(keys))
	for _, k := range keys {
		leaves = append(leaves, crypto.SimpleHashFromTwoHashes([]byte(k), encodeEntry(entries[k])))
	}
	return crypto.MerkleRoot(leaves)
}

func globalStateHash(perCache [][]byte) model.Hash {
	return model.HashFromBytes(crypto.MerkleRoot(perCache))
}

// accountKey renders an account public key as a cache key.
func accountKey(publicKey []byte) string {
	return hex.EncodeToString(publicKey)
}

// mosaicKey renders a mosaic id as a cache key with fixed width so that
// lexicographic and numeric order agree.
func mosaicKey(id uint64) string {
	return fmt.Sprintf("%016x", id)
}
