package cache

import (
	"github.com/ugorji/go/codec"

	"github.com/kmn/catapult-server/src/model"
)

// entryHandle is the canonical CBOR handle used to serialize cache entries
// for state hashing and undo records. Canonical mode fixes map ordering so
// that serialization is deterministic across machines.
func entryHandle() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}

func encodeEntry(v interface{}) []byte {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, entryHandle())
	if err := enc.Encode(v); err != nil {
		// entries are plain data structs; encoding them cannot fail short of
		// a programming error
		panic(err)
	}
	return buf
}

func decodeEntry(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, entryHandle())
	return dec.Decode(v)
}

func newStorageEncoder(buf *[]byte) *codec.Encoder {
	return codec.NewEncoderBytes(buf, entryHandle())
}

func newStorageDecoder(data []byte) *codec.Decoder {
	return codec.NewDecoderBytes(data, entryHandle())
}

// ImportanceSnapshot records an account's importance at an importance-group
// height.
type ImportanceSnapshot struct {
	Importance uint64
	Height     uint64
}

// AccountState is the accounts-cache entry, keyed by public key.
type AccountState struct {
	PublicKey []byte
	Balances  map[uint64]uint64
	// Importances holds snapshots at importance-group heights, most recent
	// first.
	Importances []ImportanceSnapshot
}

// NewAccountState creates an account with no balances.
func NewAccountState(publicKey []byte) *AccountState {
	return &AccountState{
		PublicKey: publicKey,
		Balances:  make(map[uint64]uint64),
	}
}

// Balance returns the account's balance of a mosaic.
func (a *AccountState) Balance(mosaicID uint64) uint64 {
	return a.Balances[mosaicID]
}

// Credit adds amount to the account's balance of a mosaic.
func (a *AccountState) Credit(mosaicID, amount uint64) {
	a.Balances[mosaicID] += amount
}

// Debit removes amount from the account's balance of a mosaic. The caller
// must have validated sufficiency.
func (a *AccountState) Debit(mosaicID, amount uint64) {
	a.Balances[mosaicID] -= amount
}

// ImportanceAt returns the account's importance effective at height, ie. the
// snapshot taken at the most recent importance-group height not after height.
func (a *AccountState) ImportanceAt(height uint64, grouping uint64) uint64 {
	groupHeight := ImportanceGroupHeight(height, grouping)
	for _, snapshot := range a.Importances {
		if snapshot.Height <= groupHeight {
			return snapshot.Importance
		}
	}
	return 0
}

// SetImportance pushes an importance snapshot for a group height, keeping the
// most recent snapshots first and capping history at three entries so that a
// rollback across one recomputation always finds its predecessor.
func (a *AccountState) SetImportance(importance, groupHeight uint64) {
	if len(a.Importances) > 0 && a.Importances[0].Height == groupHeight {
		a.Importances[0].Importance = importance
		return
	}
	a.Importances = append([]ImportanceSnapshot{{Importance: importance, Height: groupHeight}}, a.Importances...)
	if len(a.Importances) > 3 {
		a.Importances = a.Importances[:3]
	}
}

func (a *AccountState) clone() *AccountState {
	cp := &AccountState{
		PublicKey: append([]byte{}, a.PublicKey...),
		Balances:  make(map[uint64]uint64, len(a.Balances)),
	}
	for k, v := range a.Balances {
		cp.Balances[k] = v
	}
	cp.Importances = append(cp.Importances, a.Importances...)
	return cp
}

// ImportanceGroupHeight returns the most recent importance-group height not
// after height. Height 1 is always a group height.
func ImportanceGroupHeight(height uint64, grouping uint64) uint64 {
	if grouping == 0 || height < grouping {
		return 1
	}
	return height - height%grouping
}

// LockStatus is the lifecycle state of a hash or secret lock.
type LockStatus uint8

const (
	// LockUnused marks a lock that has not been consumed.
	LockUnused LockStatus = iota
	// LockUsed marks a consumed lock. The transition is one-way.
	LockUsed
)

// String implements fmt.Stringer.
func (s LockStatus) String() string {
	if s == LockUsed {
		return "Used"
	}
	return "Unused"
}

// HashLockInfo is the hash-lock-cache entry, keyed by the locked hash.
type HashLockInfo struct {
	Hash             model.Hash
	Owner            []byte
	MosaicID         uint64
	Amount           uint64
	ExpirationHeight uint64
	Status           LockStatus
}

func (l *HashLockInfo) clone() *HashLockInfo {
	cp := *l
	cp.Owner = append([]byte{}, l.Owner...)
	return &cp
}

// SecretLockInfo is the secret-lock-cache entry, keyed by the secret hash.
type SecretLockInfo struct {
	Secret           model.Hash
	Owner            []byte
	Recipient        []byte
	MosaicID         uint64
	Amount           uint64
	ExpirationHeight uint64
	Status           LockStatus
}

func (l *SecretLockInfo) clone() *SecretLockInfo {
	cp := *l
	cp.Owner = append([]byte{}, l.Owner...)
	cp.Recipient = append([]byte{}, l.Recipient...)
	return &cp
}

// MosaicEntry is the mosaic-cache entry, keyed by mosaic id.
type MosaicEntry struct {
	ID           uint64
	Owner        []byte
	Supply       uint64
	Divisibility uint8
}

func (m *MosaicEntry) clone() *MosaicEntry {
	cp := *m
	cp.Owner = append([]byte{}, m.Owner...)
	return &cp
}

// NamespaceEntry is the namespace-cache entry, keyed by name.
type NamespaceEntry struct {
	Name             string
	Owner            []byte
	ExpirationHeight uint64
}

func (n *NamespaceEntry) clone() *NamespaceEntry {
	cp := *n
	cp.Owner = append([]byte{}, n.Owner...)
	return &cp
}
