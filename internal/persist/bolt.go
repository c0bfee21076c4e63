package persist

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("statestore")

// BoltSpace is a bbolt file shared by in-process handles.
//
// bbolt holds an exclusive file lock, so only one process can open the
// file at a time; use SQLite for cross-process sharing.
type BoltSpace struct {
	db  *bolt.DB
	hub *Hub
}

// OpenBolt creates or opens a bbolt file at path.
func OpenBolt(path string) (*BoltSpace, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltSpace{db: db, hub: NewHub()}, nil
}

// Handle returns a new handle with its own origin.
func (s *BoltSpace) Handle() Backend {
	return &boltHandle{space: s, origin: newOrigin()}
}

// Close stops change delivery and closes the file.
func (s *BoltSpace) Close() error {
	_ = s.hub.Close()
	return s.db.Close()
}

type boltHandle struct {
	space  *BoltSpace
	origin string
}

func (h *boltHandle) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := h.space.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(key))
		if v != nil {
			// bbolt values are only valid inside the transaction
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return out, out != nil, nil
}

func (h *boltHandle) Set(_ context.Context, key string, value []byte) error {
	err := h.space.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return h.space.hub.Publish(Change{Key: key, NewValue: append([]byte(nil), value...), Origin: h.origin})
}

func (h *boltHandle) Remove(_ context.Context, key string) error {
	existed := false
	err := h.space.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		existed = b.Get([]byte(key)) != nil
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	if !existed {
		return nil
	}
	return h.space.hub.Publish(Change{Key: key, Removed: true, Origin: h.origin})
}

func (h *boltHandle) Watch(key string, fn func(Change)) (func(), error) {
	return h.space.hub.Subscribe(key, h.origin, fn)
}

func (h *boltHandle) Close() error { return nil }
