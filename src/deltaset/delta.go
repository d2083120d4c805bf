package deltaset

import (
	"sort"
)

// CopyFunc deep-copies a cache entry. Every set carries one so that
// copy-on-write modifications and detached deltas never alias live entries.
type CopyFunc func(interface{}) interface{}

// BaseSet is the committed, immutable-by-convention content of one cache.
// Commits never mutate the entry map in place; they produce a replacement
// map, so a view holding the old map keeps its snapshot for free.
type BaseSet struct {
	name    string
	entries map[string]interface{}
	copy    CopyFunc
}

// NewBaseSet creates an empty base set.
func NewBaseSet(name string, copy CopyFunc) *BaseSet {
	return &BaseSet{
		name:    name,
		entries: make(map[string]interface{}),
		copy:    copy,
	}
}

// Name returns the cache name the set belongs to.
func (b *BaseSet) Name() string {
	return b.name
}

// Entries returns the committed entry map. Callers must treat it as
// read-only.
func (b *BaseSet) Entries() map[string]interface{} {
	return b.entries
}

// Get looks up a committed entry.
func (b *BaseSet) Get(key string) (interface{}, bool) {
	v, ok := b.entries[key]
	return v, ok
}

// Len returns the number of committed entries.
func (b *BaseSet) Len() int {
	return len(b.entries)
}

// SortedKeys returns the committed keys in ascending lexicographic order.
func (b *BaseSet) SortedKeys() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeltaSet is a scratch overlay over a base set. It holds three buckets:
// added, removed, and modified (copy-on-write). Reads consult the buckets
// first, then the base.
type DeltaSet struct {
	base     map[string]interface{}
	copy     CopyFunc
	added    map[string]interface{}
	removed  map[string]bool
	modified map[string]interface{}
}

// NewDelta creates a delta over the current content of the base set.
func (b *BaseSet) NewDelta() *DeltaSet {
	return &DeltaSet{
		base:     b.entries,
		copy:     b.copy,
		added:    make(map[string]interface{}),
		removed:  make(map[string]bool),
		modified: make(map[string]interface{}),
	}
}

// Get returns the logical value of key, consulting the delta buckets before
// the base. The returned value of a base hit is shared; use Modify before
// mutating it.
func (d *DeltaSet) Get(key string) (interface{}, bool) {
	if d.removed[key] {
		return nil, false
	}
	if v, ok := d.added[key]; ok {
		return v, true
	}
	if v, ok := d.modified[key]; ok {
		return v, true
	}
	v, ok := d.base[key]
	return v, ok
}

// Contains returns true if the logical set contains key.
func (d *DeltaSet) Contains(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Insert adds a value under key. Inserting over a pending removal revives the
// key; the new value lands in the added bucket.
func (d *DeltaSet) Insert(key string, value interface{}) {
	delete(d.removed, key)
	delete(d.modified, key)
	d.added[key] = value
}

// Remove deletes key from the logical set.
func (d *DeltaSet) Remove(key string) {
	if _, ok := d.added[key]; ok {
		delete(d.added, key)
		// a key both added and removed in the same delta also shadows any
		// base entry of the same name
		if _, inBase := d.base[key]; inBase {
			d.removed[key] = true
		}
		return
	}
	delete(d.modified, key)
	d.removed[key] = true
}

// Modify returns a mutable copy of the entry under key, registering it in the
// modified bucket. Returns nil when the key is not present.
func (d *DeltaSet) Modify(key string) interface{} {
	if d.removed[key] {
		return nil
	}
	if v, ok := d.added[key]; ok {
		return v
	}
	if v, ok := d.modified[key]; ok {
		return v
	}
	v, ok := d.base[key]
	if !ok {
		return nil
	}
	cp := d.copy(v)
	d.modified[key] = cp
	return cp
}

// Len returns the logical number of entries.
func (d *DeltaSet) Len() int {
	n := len(d.base)
	for k := range d.removed {
		if _, ok := d.base[k]; ok {
			n--
		}
	}
	for k := range d.added {
		if _, ok := d.base[k]; !ok {
			n++
		}
	}
	for k := range d.modified {
		if _, ok := d.base[k]; !ok {
			n++
		}
	}
	return n
}

// SortedKeys returns the keys of the logical union in ascending lexicographic
// order. State-hash computation iterates this order so that every node hashes
// identical content identically.
func (d *DeltaSet) SortedKeys() []string {
	seen := make(map[string]bool, len(d.base)+len(d.added))
	keys := make([]string, 0, len(d.base)+len(d.added))

	collect := func(k string) {
		if seen[k] || d.removed[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for k := range d.base {
		collect(k)
	}
	for k := range d.added {
		collect(k)
	}
	for k := range d.modified {
		collect(k)
	}

	sort.Strings(keys)
	return keys
}

// Base looks up an entry of the underlying base snapshot, bypassing the
// delta buckets. Undo capture uses it to record before-images.
func (d *DeltaSet) Base(key string) (interface{}, bool) {
	v, ok := d.base[key]
	return v, ok
}

// ChangedKeys returns the keys of the added, removed and modified buckets.
func (d *DeltaSet) ChangedKeys() (added, removed, modified []string) {
	for k := range d.added {
		added = append(added, k)
	}
	for k := range d.removed {
		removed = append(removed, k)
	}
	for k := range d.modified {
		modified = append(modified, k)
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

// Detach clones the delta into an independent copy. The clone deep-copies
// every bucket entry, so it never observes mutations made after its creation
// and is safe to hand to another goroutine. A detached delta is never
// reconciled back into the base.
func (d *DeltaSet) Detach() *DeltaSet {
	clone := &DeltaSet{
		base:     d.base,
		copy:     d.copy,
		added:    make(map[string]interface{}, len(d.added)),
		removed:  make(map[string]bool, len(d.removed)),
		modified: make(map[string]interface{}, len(d.modified)),
	}
	for k, v := range d.added {
		clone.added[k] = d.copy(v)
	}
	for k := range d.removed {
		clone.removed[k] = true
	}
	for k, v := range d.modified {
		clone.modified[k] = d.copy(v)
	}
	return clone
}

// Commit applies the delta to the base set and returns the replacement entry
// map. Buckets apply in the order removed, modified, added, which keeps
// membership intent unambiguous when the same key appears in several buckets.
// The prune callback, when non-nil, is consulted for every surviving entry
// after application; returning true drops the entry.
func (b *BaseSet) Commit(d *DeltaSet, prune func(key string, value interface{}) bool) {
	next := make(map[string]interface{}, len(b.entries)+len(d.added))
	for k, v := range b.entries {
		next[k] = v
	}

	for k := range d.removed {
		delete(next, k)
	}
	for k, v := range d.modified {
		next[k] = v
	}
	for k, v := range d.added {
		next[k] = v
	}

	if prune != nil {
		for k, v := range next {
			if prune(k, v) {
				delete(next, k)
			}
		}
	}

	b.entries = next
}
