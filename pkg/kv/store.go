// Package kv implements a versioned key-value abstraction: a durable
// backend fronted by stackable in-memory overlays and cheap immutable
// snapshots.
//
// CONCURRENCY: a Store has a single committing writer; all committing
// happens from the consensus commit path. Overlays forked for
// concurrent read access are safe to read from multiple goroutines;
// only Commit is serialized.
package kv

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// NonVerifiablePrefixes names the key families excluded from Root; the
// mempool's own bookkeeping is index/cache state, never part of the
// verifiable root.
var NonVerifiablePrefixes = [][]byte{
	[]byte("mempool/"),
}

func isVerifiable(key []byte) bool {
	for _, p := range NonVerifiablePrefixes {
		if bytes.HasPrefix(key, p) {
			return false
		}
	}
	return true
}

// ErrStorage wraps a retriable I/O failure from the backing database.
var ErrStorage = errors.New("kv: storage error")

// KV is the minimal persistent backend a Store commits into. It is
// implemented by the cometbft-db adapter in pkg/kv/cometbftdb.go.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every key in [start, end) in ascending order.
	// A nil end means "no upper bound".
	Iterate(start, end []byte, fn func(key, value []byte) error) error
}

// entry is one write recorded in an overlay: a nil Value with Deleted=true
// records a tombstone so lookups don't fall through to the parent.
type entry struct {
	Value   []byte
	Deleted bool
}

// Overlay is an in-memory delta over a parent view. Overlays can be
// stacked (forked from one another) before any of them touch the
// durable backend.
type Overlay struct {
	mu     sync.RWMutex
	parent View
	writes map[string]entry
	order  []string // preserves insertion order for apply(); read order doesn't matter
}

// View is anything an Overlay can read through: the durable Store itself,
// or another Overlay it was forked from.
type View interface {
	Get(key []byte) ([]byte, error)
	PrefixRaw(prefix []byte) ([]KVPair, error)
}

// KVPair is one (key, value) pair returned by a prefix scan.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Fork creates a child Overlay whose reads fall through to parent after
// checking its own writes first.
func Fork(parent View) *Overlay {
	return &Overlay{
		parent: parent,
		writes: make(map[string]entry),
	}
}

// Get returns the value for key, checking own writes before the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	e, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		if e.Deleted {
			return nil, nil
		}
		return e.Value, nil
	}
	if o.parent == nil {
		return nil, nil
	}
	return o.parent.Get(key)
}

// Put records a write in this overlay only; it has no effect on the
// parent until Apply is called.
func (o *Overlay) Put(key, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	if _, exists := o.writes[k]; !exists {
		o.order = append(o.order, k)
	}
	v := make([]byte, len(value))
	copy(v, value)
	o.writes[k] = entry{Value: v}
}

// Delete records a tombstone in this overlay.
func (o *Overlay) Delete(key []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	if _, exists := o.writes[k]; !exists {
		o.order = append(o.order, k)
	}
	o.writes[k] = entry{Deleted: true}
}

// PrefixRaw returns a sorted, de-duplicated view of (key,value) pairs
// under prefix, spanning this overlay and its parent chain. Own writes
// win over anything seen through the parent.
func (o *Overlay) PrefixRaw(prefix []byte) ([]KVPair, error) {
	merged := make(map[string]entry)

	if o.parent != nil {
		parentPairs, err := o.parent.PrefixRaw(prefix)
		if err != nil {
			return nil, err
		}
		for _, p := range parentPairs {
			merged[string(p.Key)] = entry{Value: p.Value}
		}
	}

	o.mu.RLock()
	for k, e := range o.writes {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			merged[k] = e
		}
	}
	o.mu.RUnlock()

	out := make([]KVPair, 0, len(merged))
	for k, e := range merged {
		if e.Deleted {
			continue
		}
		out = append(out, KVPair{Key: []byte(k), Value: e.Value})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// Apply merges this overlay's writes into its parent overlay in the
// order they were made. When the parent is not an Overlay (a Store or a
// Snapshot) it returns an error and writes nothing; only Store.Commit
// installs a delta durably.
//
// Order of keys within one overlay is irrelevant to the resulting state
// (later writes to the same key simply replace earlier ones in this
// overlay's own map before Apply runs); between overlays, the
// later-applied overlay wins because Apply re-plays onto whatever the
// parent currently holds.
func (o *Overlay) Apply() error {
	parentOverlay, ok := o.parent.(*Overlay)
	if !ok {
		return fmt.Errorf("kv: Apply requires an Overlay parent, got %T", o.parent)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, k := range o.order {
		e := o.writes[k]
		if e.Deleted {
			parentOverlay.Delete([]byte(k))
		} else {
			parentOverlay.Put([]byte(k), e.Value)
		}
	}
	return nil
}

// Discard drops this overlay without touching its parent. It exists for
// readability at call sites; an unreferenced Overlay is already
// equivalent to being discarded.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string]entry)
	o.order = nil
}

// Fork returns a fresh Overlay whose parent is this overlay, letting
// callers stage nested speculative writes.
func (o *Overlay) Fork() *Overlay {
	return Fork(o)
}

// Delta is the set of writes a caller wants installed atomically as a
// new version, in write order.
type Delta struct {
	writes []keyedEntry
}

type keyedEntry struct {
	Key   []byte
	Entry entry
}

// NewDelta builds an empty Delta.
func NewDelta() *Delta { return &Delta{} }

// Put stages a write in the delta.
func (d *Delta) Put(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	d.writes = append(d.writes, keyedEntry{Key: append([]byte(nil), key...), Entry: entry{Value: v}})
}

// Delete stages a tombstone in the delta.
func (d *Delta) Delete(key []byte) {
	d.writes = append(d.writes, keyedEntry{Key: append([]byte(nil), key...), Entry: entry{Deleted: true}})
}

// FromOverlay drains an overlay's writes, in the order they were made,
// into a new Delta ready for Store.Commit.
func FromOverlay(o *Overlay) *Delta {
	d := NewDelta()
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, k := range o.order {
		e := o.writes[k]
		d.writes = append(d.writes, keyedEntry{Key: []byte(k), Entry: e})
	}
	return d
}

// Store is the versioned, durable root of the KV hierarchy. It commits
// deltas atomically and hands out cheap Snapshots.
type Store struct {
	mu      sync.Mutex // serializes Commit; reads never take this lock
	backend KV
	version uint64
}

// NewStore wraps a durable KV backend as a versioned Store starting at
// version 0.
func NewStore(backend KV) *Store {
	return &Store{backend: backend}
}

// Get reads directly from the durable backend (version-less read of the
// latest committed state).
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.backend.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return v, nil
}

// PrefixRaw implements View against the durable backend.
func (s *Store) PrefixRaw(prefix []byte) ([]KVPair, error) {
	var out []KVPair
	end := prefixUpperBound(prefix)
	err := s.backend.Iterate(prefix, end, func(k, v []byte) error {
		out = append(out, KVPair{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil if the prefix is all 0xff bytes
// (meaning "no upper bound").
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Fork returns a new Overlay whose parent is this Store's current
// committed state.
func (s *Store) Fork() *Overlay {
	return Fork(s)
}

// Version returns the last committed version.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Commit atomically installs delta on top of the last version and
// returns the new version number. This is the only write path to the
// durable backend; overlay Apply/Discard never touch it directly.
func (s *Store) Commit(delta *Delta) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range delta.writes {
		if w.Entry.Deleted {
			if err := s.backend.Delete(w.Key); err != nil {
				return 0, fmt.Errorf("%w: commit delete %x: %v", ErrStorage, w.Key, err)
			}
			continue
		}
		if err := s.backend.Set(w.Key, w.Entry.Value); err != nil {
			return 0, fmt.Errorf("%w: commit set %x: %v", ErrStorage, w.Key, err)
		}
	}
	s.version++
	return s.version, nil
}

// Root computes a deterministic digest over the verifiable key-space
// (every key outside NonVerifiablePrefixes), independent of write order:
// sorted (key,value) pairs are double-hash-leafed the same way
// pkg/blockdata hashes block data items, then folded together. Two
// stores holding identical verifiable state always produce the same
// Root regardless of how they got there, so re-applying an identical
// delta can never change the root.
func (s *Store) Root() ([]byte, error) {
	return RootOf(s)
}

// RootOf computes the same digest as Store.Root over any View,
// including an uncommitted Overlay, so callers can derive the
// post-block state root before the block's delta is committed.
func RootOf(v View) ([]byte, error) {
	pairs, err := v.PrefixRaw(nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0 })

	h := sha256.New()
	for _, p := range pairs {
		if !isVerifiable(p.Key) {
			continue
		}
		leaf := leafHash(p.Key, p.Value)
		h.Write(leaf)
	}
	return h.Sum(nil), nil
}

// leafHash double-hashes key||value the way the rollup-data Merkle trees
// in pkg/blockdata leaf-hash their items: leaf = SHA256(0x00 || SHA256(item)).
func leafHash(key, value []byte) []byte {
	inner := sha256.New()
	inner.Write(key)
	inner.Write(value)
	innerSum := inner.Sum(nil)

	outer := sha256.New()
	outer.Write([]byte{0x00})
	outer.Write(innerSum)
	return outer.Sum(nil)
}

// Snapshot records the Store's version at the moment it was taken and
// reads through to the Store. Snapshots are cheap: they hold no copy of
// the data, only a reference to the Store and that version number, and
// remain usable for reads after any number of further commits. They do
// not retain older state: reads observe the latest committed data, not
// the data as of the recorded version (see Get).
type Snapshot struct {
	store   *Store
	version uint64
}

// Snapshot pins the Store's current version.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{store: s, version: s.Version()}
}

// Version returns the version this snapshot was pinned at.
func (sn *Snapshot) Version() uint64 { return sn.version }

// Get reads through to the durable backend. The Store in this package
// keeps only the latest version durably, so a Snapshot's Get always
// observes the backend as of call time; callers that need history
// read it back out of the block store instead (see pkg/app).
func (sn *Snapshot) Get(key []byte) ([]byte, error) {
	return sn.store.Get(key)
}

// PrefixRaw scans the durable backend.
func (sn *Snapshot) PrefixRaw(prefix []byte) ([]KVPair, error) {
	return sn.store.PrefixRaw(prefix)
}

// Fork returns a fresh Overlay over this snapshot, letting callers stage
// speculative writes (e.g. a checked-transaction precheck) without
// touching the Store.
func (sn *Snapshot) Fork() *Overlay {
	return Fork(sn)
}
