package db

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// ErrStopIteration ends a ForEach/Reverse walk early without reporting an error.
var ErrStopIteration = fmt.Errorf("stop iteration")

type Bucket struct {
	db   *bbolt.DB
	Name []byte
}

func (c *Client) Bucket(name string) (*Bucket, error) {
	if err := c.BoltDB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	}); err != nil {
		return nil, err
	}
	return &Bucket{
		db:   c.BoltDB,
		Name: []byte(name),
	}, nil
}

func (b *Bucket) Update(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) View(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) Put(key, value []byte) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		return bucket.Put(key, value)
	})
}

// Get returns a copy of the stored value, or nil when the key is absent.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.GetFunc(key, func(v []byte) error {
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, err
}

// GetFunc passes the stored value to fn without copying.
// v is only valid inside fn.
func (b *Bucket) GetFunc(key []byte, fn func(v []byte) error) error {
	return b.View(func(bucket *bbolt.Bucket) error {
		if v := bucket.Get(key); v != nil {
			return fn(v)
		}
		return nil
	})
}

// Modify reads, transforms and writes back a value in a single transaction.
// fn receives nil when the key is absent; returning nil from fn deletes the key.
func (b *Bucket) Modify(key []byte, fn func(old []byte) ([]byte, error)) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		next, err := fn(bucket.Get(key))
		if err != nil {
			return err
		}
		if next == nil {
			return bucket.Delete(key)
		}
		return bucket.Put(key, next)
	})
}

func (b *Bucket) Delete(key []byte) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		return bucket.Delete(key)
	})
}

func (b *Bucket) ForEach(fn func(k, v []byte) error) error {
	err := b.View(func(bucket *bbolt.Bucket) error {
		return bucket.ForEach(fn)
	})
	if err == ErrStopIteration {
		return nil
	}
	return err
}

// Reverse walks the bucket from the last key to the first.
func (b *Bucket) Reverse(fn func(k, v []byte) error) error {
	err := b.View(func(bucket *bbolt.Bucket) error {
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err == ErrStopIteration {
		return nil
	}
	return err
}

func (b *Bucket) Exists(key []byte) (bool, error) {
	var exists bool
	err := b.View(func(bucket *bbolt.Bucket) error {
		exists = bucket.Get(key) != nil
		return nil
	})
	return exists, err
}

func (b *Bucket) Count() (int, error) {
	var count int
	err := b.View(func(bucket *bbolt.Bucket) error {
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}
