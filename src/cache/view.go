package cache

import (
	"sort"

	"github.com/kmn/catapult-server/src/model"
)

// View is a read-only snapshot of the committed state. It is safe for
// concurrent use and keeps observing its snapshot across later commits.
type View struct {
	height     uint64
	verifiable bool

	accounts    map[string]interface{}
	hashLocks   map[string]interface{}
	mosaics     map[string]interface{}
	namespaces  map[string]interface{}
	secretLocks map[string]interface{}
}

// Height returns the committed height the view observes.
func (v *View) Height() uint64 {
	return v.height
}

// Account looks up an account state by public key.
func (v *View) Account(publicKey []byte) (*AccountState, bool) {
	e, ok := v.accounts[accountKey(publicKey)]
	if !ok {
		return nil, false
	}
	return e.(*AccountState), true
}

// HashLock looks up a hash lock by its locked hash.
func (v *View) HashLock(hash model.Hash) (*HashLockInfo, bool) {
	e, ok := v.hashLocks[hash.Hex()]
	if !ok {
		return nil, false
	}
	return e.(*HashLockInfo), true
}

// SecretLock looks up a secret lock by its secret hash.
func (v *View) SecretLock(secret model.Hash) (*SecretLockInfo, bool) {
	e, ok := v.secretLocks[secret.Hex()]
	if !ok {
		return nil, false
	}
	return e.(*SecretLockInfo), true
}

// Mosaic looks up a mosaic entry by id.
func (v *View) Mosaic(id uint64) (*MosaicEntry, bool) {
	e, ok := v.mosaics[mosaicKey(id)]
	if !ok {
		return nil, false
	}
	return e.(*MosaicEntry), true
}

// Namespace looks up a namespace entry by name.
func (v *View) Namespace(name string) (*NamespaceEntry, bool) {
	e, ok := v.namespaces[name]
	if !ok {
		return nil, false
	}
	return e.(*NamespaceEntry), true
}

// AccountCount returns the number of accounts in the snapshot.
func (v *View) AccountCount() int {
	return len(v.accounts)
}

// StateHash computes the merkle-rooted hash over the snapshot, or zero when
// verifiable state is disabled.
func (v *View) StateHash() model.Hash {
	if !v.verifiable {
		return model.ZeroHash
	}

	perCache := make([][]byte, 0, 5)
	for _, entries := range []map[string]interface{}{
		v.accounts, v.hashLocks, v.mosaics, v.namespaces, v.secretLocks,
	} {
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		perCache = append(perCache, subCacheHash(entries, keys))
	}

	return globalStateHash(perCache)
}
