package storage

import "errors"

// Snapshot is an immutable, point-in-time view of committed state. It never
// mutates the backing Store and may be shared freely across goroutines.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Seek(rng SeekRange, f func(k, v []byte) bool)
}

// readOnlyStore adapts a Snapshot to the Store interface for code (like
// package schema) that is written against Store but, when handed a
// Snapshot, must never actually mutate anything.
type readOnlyStore struct {
	Snapshot
}

var errReadOnlySnapshot = errors.New("storage: snapshot is read-only")

func (readOnlyStore) Put([]byte, []byte) error { return errReadOnlySnapshot }
func (readOnlyStore) Delete([]byte) error      { return errReadOnlySnapshot }
func (readOnlyStore) Close() error             { return nil }

// ReadOnly wraps a Snapshot so it satisfies Store, rejecting any write.
func ReadOnly(s Snapshot) Store {
	return readOnlyStore{Snapshot: s}
}

type tombstone struct{}

// Fork is a mutable read-write overlay over a backing Snapshot/Store. Writes
// accumulate in memory until Commit applies them atomically to the backing
// store, or Discard drops them. This is the dispatcher's only mutation
// channel: a Fork must never be retained by service code past the call that
// received it (spec.md §4.2.3).
type Fork struct {
	backing Store
	overlay map[string][]byte
	deleted map[string]tombstone
}

// NewFork opens a fork over backing. backing is read through for keys not
// present in the overlay.
func NewFork(backing Store) *Fork {
	return &Fork{
		backing: backing,
		overlay: make(map[string][]byte),
		deleted: make(map[string]tombstone),
	}
}

// Get implements Store.
func (f *Fork) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := f.overlay[k]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	if _, ok := f.deleted[k]; ok {
		return nil, ErrKeyNotFound
	}
	return f.backing.Get(key)
}

// Put implements Store.
func (f *Fork) Put(key, value []byte) error {
	k := string(key)
	delete(f.deleted, k)
	v := make([]byte, len(value))
	copy(v, value)
	f.overlay[k] = v
	return nil
}

// Delete implements Store.
func (f *Fork) Delete(key []byte) error {
	k := string(key)
	delete(f.overlay, k)
	f.deleted[k] = tombstone{}
	return nil
}

// Close is a no-op: closing the backing store is the owner's responsibility.
func (f *Fork) Close() error { return nil }

// kvPair is an intermediate (key, value) pair used while merging a Fork's
// overlay with its backing store during Seek.
type kvPair struct {
	k, v []byte
}

// Seek merges the overlay and the backing store, overlay entries taking
// precedence and tombstoned keys suppressed, honoring rng.Backwards order.
func (f *Fork) Seek(rng SeekRange, cb func(k, v []byte) bool) {
	seen := make(map[string]bool, len(f.overlay)+len(f.deleted))
	var merged []kvPair
	for k, v := range f.overlay {
		kb := []byte(k)
		if !hasPrefixAndStart(kb, rng) {
			continue
		}
		merged = append(merged, kvPair{k: kb, v: v})
		seen[k] = true
	}
	f.backing.Seek(SeekRange{Prefix: rng.Prefix, Start: rng.Start, Backwards: rng.Backwards}, func(k, v []byte) bool {
		ks := string(k)
		if seen[ks] {
			return true
		}
		if _, gone := f.deleted[ks]; gone {
			return true
		}
		merged = append(merged, kvPair{k: append([]byte{}, k...), v: append([]byte{}, v...)})
		return true
	})
	sortKV(merged, rng.Backwards)
	for _, m := range merged {
		if !cb(m.k, m.v) {
			return
		}
	}
}

func hasPrefixAndStart(k []byte, rng SeekRange) bool {
	if len(k) < len(rng.Prefix) {
		return false
	}
	for i, b := range rng.Prefix {
		if k[i] != b {
			return false
		}
	}
	if len(rng.Start) == 0 {
		return true
	}
	start := string(rng.Prefix) + string(rng.Start)
	if rng.Backwards {
		return string(k) <= start
	}
	return string(k) >= start
}

func sortKV(items []kvPair, backwards bool) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 {
			less := string(items[j-1].k) > string(items[j].k)
			if backwards {
				less = string(items[j-1].k) < string(items[j].k)
			}
			if !less {
				break
			}
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

// Commit applies the fork's overlay to the backing store atomically (via a
// Batch when the backing store supports one) and returns the number of keys
// changed. Commit discards the fork's own state; it must not be reused.
func (f *Fork) Commit() (int, error) {
	n := len(f.overlay) + len(f.deleted)
	if b, ok := f.backing.(Batcher); ok {
		batch := b.NewBatch()
		for k, v := range f.overlay {
			batch.Put([]byte(k), v)
		}
		for k := range f.deleted {
			batch.Delete([]byte(k))
		}
		if err := b.PutBatch(batch); err != nil {
			return 0, err
		}
		f.Discard()
		return n, nil
	}
	for k, v := range f.overlay {
		if err := f.backing.Put([]byte(k), v); err != nil {
			return 0, err
		}
	}
	for k := range f.deleted {
		if err := f.backing.Delete([]byte(k)); err != nil {
			return 0, err
		}
	}
	f.Discard()
	return n, nil
}

// Discard drops every buffered write without touching the backing store.
func (f *Fork) Discard() {
	f.overlay = make(map[string][]byte)
	f.deleted = make(map[string]tombstone)
}
