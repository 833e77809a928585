package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store, used for tests and as the default
// backend when no durable store is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Seek implements Store.
func (s *MemoryStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), rng.Prefix) {
			keys = append(keys, k)
		}
	}
	cmp := func(a, b string) bool { return a < b }
	if rng.Backwards {
		cmp = func(a, b string) bool { return a > b }
	}
	sort.Slice(keys, func(i, j int) bool { return cmp(keys[i], keys[j]) })
	start := string(append(append([]byte{}, rng.Prefix...), rng.Start...))
	type kv struct{ k, v []byte }
	matched := make([]kv, 0, len(keys))
	for _, k := range keys {
		if rng.Backwards {
			if len(rng.Start) > 0 && k > start {
				continue
			}
		} else {
			if len(rng.Start) > 0 && k < start {
				continue
			}
		}
		matched = append(matched, kv{k: []byte(k), v: s.data[k]})
	}
	s.mu.RUnlock()
	for _, m := range matched {
		if !f(m.k, m.v) {
			return
		}
	}
}

// NewBatch implements Batcher.
func (s *MemoryStore) NewBatch() Batch {
	return &memBatch{}
}

type memBatchOp struct {
	key, value []byte
	del        bool
}

type memBatch struct {
	ops []memBatchOp
}

func (b *memBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memBatchOp{key: key, value: value})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memBatchOp{key: key, del: true})
}

// PutBatch implements Batcher.
func (s *MemoryStore) PutBatch(b Batch) error {
	mb, ok := b.(*memBatch)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range mb.ops {
		if op.del {
			delete(s.data, string(op.key))
			continue
		}
		v := make([]byte, len(op.value))
		copy(v, op.value)
		s.data[string(op.key)] = v
	}
	return nil
}
