package cache

import (
	"github.com/kmn/catapult-server/src/deltaset"
	"github.com/kmn/catapult-server/src/model"
)

// Delta is a scratch overlay over all state caches. A non-detached delta is
// exclusive; a detached delta is an independent owned value that can be sent
// across goroutines and is never reconciled back.
type Delta struct {
	cache      *CatapultCache
	detached   bool
	invalid    bool
	baseHeight uint64

	Accounts    *AccountDelta
	HashLocks   *HashLockDelta
	Mosaics     *MosaicDelta
	Namespaces  *NamespaceDelta
	SecretLocks *SecretLockDelta
}

// Detached indicates whether the delta is a detached clone.
func (d *Delta) Detached() bool {
	return d.detached
}

// BaseHeight returns the committed height the delta was created on.
func (d *Delta) BaseHeight() uint64 {
	return d.baseHeight
}

// Detach clones the delta into an independent detached copy that never
// observes later mutations of the original.
func (d *Delta) Detach() *Delta {
	return &Delta{
		cache:       d.cache,
		detached:    true,
		baseHeight:  d.baseHeight,
		Accounts:    &AccountDelta{set: d.Accounts.set.Detach()},
		HashLocks:   &HashLockDelta{set: d.HashLocks.set.Detach()},
		Mosaics:     &MosaicDelta{set: d.Mosaics.set.Detach()},
		Namespaces:  &NamespaceDelta{set: d.Namespaces.set.Detach()},
		SecretLocks: &SecretLockDelta{set: d.SecretLocks.set.Detach()},
	}
}

// StateHash computes the merkle-rooted hash over the delta's logical content.
// The harvester uses this on a detached delta to stamp a candidate block
// before anything is committed.
func (d *Delta) StateHash() model.Hash {
	if !d.cache.verifiable {
		return model.ZeroHash
	}

	perCache := make([][]byte, 0, 5)
	for _, sub := range []*deltaset.DeltaSet{
		d.Accounts.set, d.HashLocks.set, d.Mosaics.set, d.Namespaces.set, d.SecretLocks.set,
	} {
		keys := sub.SortedKeys()
		entries := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			v, _ := sub.Get(k)
			entries[k] = v
		}
		perCache = append(perCache, subCacheHash(entries, keys))
	}

	return globalStateHash(perCache)
}

// Reader adapts the delta to the read-only surface stateful validators
// expect, so in-flight blocks are validated against their own pending
// mutations.
func (d *Delta) Reader() *DeltaReader {
	return &DeltaReader{delta: d}
}

// DeltaReader exposes read-only typed lookups over a delta.
type DeltaReader struct {
	delta *Delta
}

// Account looks up an account state.
func (r *DeltaReader) Account(publicKey []byte) (*AccountState, bool) {
	return r.delta.Accounts.Find(publicKey)
}

// HashLock looks up a hash lock.
func (r *DeltaReader) HashLock(hash model.Hash) (*HashLockInfo, bool) {
	return r.delta.HashLocks.Find(hash)
}

// SecretLock looks up a secret lock.
func (r *DeltaReader) SecretLock(secret model.Hash) (*SecretLockInfo, bool) {
	return r.delta.SecretLocks.Find(secret)
}

// Mosaic looks up a mosaic entry.
func (r *DeltaReader) Mosaic(id uint64) (*MosaicEntry, bool) {
	return r.delta.Mosaics.Find(id)
}

// Namespace looks up a namespace entry.
func (r *DeltaReader) Namespace(name string) (*NamespaceEntry, bool) {
	return r.delta.Namespaces.Find(name)
}

// AccountDelta is the typed accounts overlay.
type AccountDelta struct {
	set *deltaset.DeltaSet
}

// Find returns the logical account state; the result must not be mutated.
func (d *AccountDelta) Find(publicKey []byte) (*AccountState, bool) {
	v, ok := d.set.Get(accountKey(publicKey))
	if !ok {
		return nil, false
	}
	return v.(*AccountState), true
}

// Modify returns a mutable copy-on-write account state, creating the account
// when it does not exist yet.
func (d *AccountDelta) Modify(publicKey []byte) *AccountState {
	key := accountKey(publicKey)
	if v := d.set.Modify(key); v != nil {
		return v.(*AccountState)
	}
	account := NewAccountState(publicKey)
	d.set.Insert(key, account)
	return account
}

// ForEachModify visits every account in deterministic key order, handing out
// mutable copies. Importance recomputation at group heights runs through
// this.
func (d *AccountDelta) ForEachModify(fn func(*AccountState)) {
	for _, key := range d.set.SortedKeys() {
		if v := d.set.Modify(key); v != nil {
			fn(v.(*AccountState))
		}
	}
}

// Insert adds an account state.
func (d *AccountDelta) Insert(account *AccountState) {
	d.set.Insert(accountKey(account.PublicKey), account)
}

// Remove deletes an account state.
func (d *AccountDelta) Remove(publicKey []byte) {
	d.set.Remove(accountKey(publicKey))
}

// HashLockDelta is the typed hash-locks overlay.
type HashLockDelta struct {
	set *deltaset.DeltaSet
}

// Find returns the logical lock info; the result must not be mutated.
func (d *HashLockDelta) Find(hash model.Hash) (*HashLockInfo, bool) {
	v, ok := d.set.Get(hash.Hex())
	if !ok {
		return nil, false
	}
	return v.(*HashLockInfo), true
}

// Modify returns a mutable copy-on-write lock info, or nil when absent.
func (d *HashLockDelta) Modify(hash model.Hash) *HashLockInfo {
	v := d.set.Modify(hash.Hex())
	if v == nil {
		return nil
	}
	return v.(*HashLockInfo)
}

// Insert adds a lock info.
func (d *HashLockDelta) Insert(lock *HashLockInfo) {
	d.set.Insert(lock.Hash.Hex(), lock)
}

// Remove deletes a lock info.
func (d *HashLockDelta) Remove(hash model.Hash) {
	d.set.Remove(hash.Hex())
}

// Contains returns true if a lock exists for hash.
func (d *HashLockDelta) Contains(hash model.Hash) bool {
	return d.set.Contains(hash.Hex())
}

// SecretLockDelta is the typed secret-locks overlay.
type SecretLockDelta struct {
	set *deltaset.DeltaSet
}

// Find returns the logical lock info; the result must not be mutated.
func (d *SecretLockDelta) Find(secret model.Hash) (*SecretLockInfo, bool) {
	v, ok := d.set.Get(secret.Hex())
	if !ok {
		return nil, false
	}
	return v.(*SecretLockInfo), true
}

// Modify returns a mutable copy-on-write lock info, or nil when absent.
func (d *SecretLockDelta) Modify(secret model.Hash) *SecretLockInfo {
	v := d.set.Modify(secret.Hex())
	if v == nil {
		return nil
	}
	return v.(*SecretLockInfo)
}

// Insert adds a lock info.
func (d *SecretLockDelta) Insert(lock *SecretLockInfo) {
	d.set.Insert(lock.Secret.Hex(), lock)
}

// Remove deletes a lock info.
func (d *SecretLockDelta) Remove(secret model.Hash) {
	d.set.Remove(secret.Hex())
}

// MosaicDelta is the typed mosaics overlay.
type MosaicDelta struct {
	set *deltaset.DeltaSet
}

// Find returns the logical mosaic entry; the result must not be mutated.
func (d *MosaicDelta) Find(id uint64) (*MosaicEntry, bool) {
	v, ok := d.set.Get(mosaicKey(id))
	if !ok {
		return nil, false
	}
	return v.(*MosaicEntry), true
}

// Modify returns a mutable copy-on-write mosaic entry, or nil when absent.
func (d *MosaicDelta) Modify(id uint64) *MosaicEntry {
	v := d.set.Modify(mosaicKey(id))
	if v == nil {
		return nil
	}
	return v.(*MosaicEntry)
}

// Insert adds a mosaic entry.
func (d *MosaicDelta) Insert(entry *MosaicEntry) {
	d.set.Insert(mosaicKey(entry.ID), entry)
}

// Remove deletes a mosaic entry.
func (d *MosaicDelta) Remove(id uint64) {
	d.set.Remove(mosaicKey(id))
}

// NamespaceDelta is the typed namespaces overlay.
type NamespaceDelta struct {
	set *deltaset.DeltaSet
}

// Find returns the logical namespace entry; the result must not be mutated.
func (d *NamespaceDelta) Find(name string) (*NamespaceEntry, bool) {
	v, ok := d.set.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*NamespaceEntry), true
}

// Insert adds a namespace entry.
func (d *NamespaceDelta) Insert(entry *NamespaceEntry) {
	d.set.Insert(entry.Name, entry)
}

// Remove deletes a namespace entry.
func (d *NamespaceDelta) Remove(name string) {
	d.set.Remove(name)
}
