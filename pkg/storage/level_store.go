package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a durable Store backed by github.com/syndtr/goleveldb,
// mirroring the teacher's storage.LevelDBStore — a second selectable
// backend alongside BoltStore.
type LevelStore struct {
	db *leveldb.DB
}

// LevelOptions configures NewLevelStore.
type LevelOptions struct {
	DataDirectoryPath string
}

// NewLevelStore opens (creating if necessary) a leveldb-backed Store.
func NewLevelStore(opts LevelOptions) (*LevelStore, error) {
	db, err := leveldb.OpenFile(opts.DataDirectoryPath, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// Get implements Store.
func (s *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	return v, err
}

// Put implements Store.
func (s *LevelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

// Delete implements Store.
func (s *LevelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// Seek implements Store.
func (s *LevelStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	slice := util.BytesPrefix(rng.Prefix)
	if len(rng.Start) > 0 {
		start := append(append([]byte{}, rng.Prefix...), rng.Start...)
		if rng.Backwards {
			slice.Limit = append(start, 0x00)
		} else {
			slice.Start = start
		}
	}
	var iter iterator.Iterator = s.db.NewIterator(slice, nil)
	defer iter.Release()
	if rng.Backwards {
		for ok := iter.Last(); ok; ok = iter.Prev() {
			if !f(iter.Key(), iter.Value()) {
				return
			}
		}
		return
	}
	for iter.Next() {
		if !f(iter.Key(), iter.Value()) {
			return
		}
	}
}

// NewBatch implements Batcher.
func (s *LevelStore) NewBatch() Batch {
	return &levelBatch{b: new(leveldb.Batch)}
}

type levelBatch struct {
	b *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)      { b.b.Delete(key) }

// PutBatch implements Batcher.
func (s *LevelStore) PutBatch(b Batch) error {
	lb, ok := b.(*levelBatch)
	if !ok {
		return errors.New("storage: not a leveldb batch")
	}
	return s.db.Write(lb.b, nil)
}
