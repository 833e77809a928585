package storage

import (
	"bytes"

	"go.etcd.io/bbolt"
)

var bucket = []byte("dispatcher")

// BoltStore is a durable Store backed by go.etcd.io/bbolt, mirroring the
// teacher's storage.BoltDBStore.
type BoltStore struct {
	db *bbolt.DB
}

// BoltOptions configures NewBoltStore.
type BoltOptions struct {
	FilePath string
}

// NewBoltStore opens (creating if necessary) a bbolt-backed Store at
// opts.FilePath.
func NewBoltStore(opts BoltOptions) (*BoltStore, error) {
	db, err := bbolt.Open(opts.FilePath, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Get implements Store.
func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte{}, v...)
		return nil
	})
	return out, err
}

// Put implements Store.
func (s *BoltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Seek implements Store.
func (s *BoltStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		start := append(append([]byte{}, rng.Prefix...), rng.Start...)
		if rng.Backwards {
			var k, v []byte
			if len(rng.Start) == 0 {
				k, v = seekLastWithPrefix(c, rng.Prefix)
			} else {
				k, v = c.Seek(start)
				if k == nil || !bytes.HasPrefix(k, rng.Prefix) {
					k, v = seekLastWithPrefix(c, rng.Prefix)
				} else if bytes.Compare(k, start) > 0 {
					k, v = c.Prev()
				}
			}
			for ; k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = c.Prev() {
				if !f(k, v) {
					return nil
				}
			}
			return nil
		}
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = c.Next() {
			if !f(k, v) {
				return nil
			}
		}
		return nil
	})
}

func seekLastWithPrefix(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	upper := append(append([]byte{}, prefix...), 0xff)
	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	return k, v
}

// NewBatch implements Batcher.
func (s *BoltStore) NewBatch() Batch {
	return &memBatch{}
}

// PutBatch implements Batcher.
func (s *BoltStore) PutBatch(b Batch) error {
	mb, ok := b.(*memBatch)
	if !ok {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucket)
		for _, op := range mb.ops {
			if op.del {
				if err := bk.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bk.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}
