package cache

import (
	"github.com/pkg/errors"

	"github.com/kmn/catapult-server/src/deltaset"
)

// EntryChange records the before-image of one cache entry touched by a block.
// Had=false means the key did not exist before the block; otherwise Before
// holds the canonical encoding of the previous entry.
type EntryChange struct {
	Key    string
	Had    bool
	Before []byte
}

// BlockUndo is the undo data of one committed block: everything needed to
// restore the caches to their pre-block state. It is persisted alongside the
// block and replayed, newest first, during rollback.
type BlockUndo struct {
	Height  uint64
	Changes map[string][]EntryChange
}

// EncodeUndo serializes undo data for storage.
func EncodeUndo(undo *BlockUndo) ([]byte, error) {
	var buf []byte
	enc := newStorageEncoder(&buf)
	if err := enc.Encode(undo); err != nil {
		return nil, errors.Wrap(err, "encoding block undo")
	}
	return buf, nil
}

// DecodeUndo deserializes undo data produced by EncodeUndo.
func DecodeUndo(data []byte) (*BlockUndo, error) {
	undo := new(BlockUndo)
	if err := newStorageDecoder(data).Decode(undo); err != nil {
		return nil, errors.Wrap(err, "decoding block undo")
	}
	return undo, nil
}

// BuildUndo captures the before-images of every entry the delta has touched.
// It must be called before the delta is committed.
func (d *Delta) BuildUndo(height uint64) *BlockUndo {
	undo := &BlockUndo{
		Height:  height,
		Changes: make(map[string][]EntryChange),
	}

	for name, sub := range d.subSets() {
		added, removed, modified := sub.ChangedKeys()

		var changes []EntryChange
		for _, k := range added {
			if before, ok := sub.Base(k); ok {
				// an add shadowing a base entry restores the base entry
				changes = append(changes, EntryChange{Key: k, Had: true, Before: encodeEntry(before)})
			} else {
				changes = append(changes, EntryChange{Key: k, Had: false})
			}
		}
		for _, k := range removed {
			if before, ok := sub.Base(k); ok {
				changes = append(changes, EntryChange{Key: k, Had: true, Before: encodeEntry(before)})
			}
		}
		for _, k := range modified {
			if before, ok := sub.Base(k); ok {
				changes = append(changes, EntryChange{Key: k, Had: true, Before: encodeEntry(before)})
			}
		}

		if len(changes) > 0 {
			undo.Changes[name] = changes
		}
	}

	return undo
}

// ApplyUndo replays undo data onto the delta, restoring every touched entry
// to its before-image. Undo records must be applied newest block first.
func (d *Delta) ApplyUndo(undo *BlockUndo) error {
	for name, changes := range undo.Changes {
		sub, ok := d.subSets()[name]
		if !ok {
			return errors.Errorf("unknown cache in undo data: %s", name)
		}

		for _, change := range changes {
			if !change.Had {
				sub.Remove(change.Key)
				continue
			}

			entry, err := decodeEntryFor(name, change.Before)
			if err != nil {
				return errors.Wrapf(err, "restoring %s/%s", name, change.Key)
			}
			sub.Insert(change.Key, entry)
		}
	}

	return nil
}

func (d *Delta) subSets() map[string]*deltaset.DeltaSet {
	return map[string]*deltaset.DeltaSet{
		AccountCacheName:    d.Accounts.set,
		HashLockCacheName:   d.HashLocks.set,
		MosaicCacheName:     d.Mosaics.set,
		NamespaceCacheName:  d.Namespaces.set,
		SecretLockCacheName: d.SecretLocks.set,
	}
}

func decodeEntryFor(cacheName string, data []byte) (interface{}, error) {
	switch cacheName {
	case AccountCacheName:
		e := new(AccountState)
		return e, decodeEntry(data, e)
	case HashLockCacheName:
		e := new(HashLockInfo)
		return e, decodeEntry(data, e)
	case MosaicCacheName:
		e := new(MosaicEntry)
		return e, decodeEntry(data, e)
	case NamespaceCacheName:
		e := new(NamespaceEntry)
		return e, decodeEntry(data, e)
	case SecretLockCacheName:
		e := new(SecretLockInfo)
		return e, decodeEntry(data, e)
	}
	return nil, errors.Errorf("unknown cache name: %s", cacheName)
}
