package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketHistory   = []byte("history")
)

// maxHistory bounds the per-device commit history.
const maxHistory = 50

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveSnapshot(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSnapshots)
		}
		if err := b.Put([]byte(snap.DeviceID), data); err != nil {
			return err
		}

		hist, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(snap.DeviceID))
		if err != nil {
			return err
		}
		seq, err := hist.NextSequence()
		if err != nil {
			return err
		}
		if err := hist.Put(seqKey(seq), data); err != nil {
			return err
		}
		return trimHistory(hist)
	})
}

// trimHistory drops the oldest entries beyond maxHistory.
func trimHistory(b *bolt.Bucket) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for len(keys) > maxHistory {
		if err := b.Delete(keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

func (s *BoltStore) GetSnapshot(deviceID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSnapshots)
		}
		data := b.Get([]byte(deviceID))
		if data == nil {
			return fmt.Errorf("snapshot %s: %w", deviceID, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) DeleteSnapshot(deviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSnapshots)
		}
		if err := b.Delete([]byte(deviceID)); err != nil {
			return err
		}
		hist := tx.Bucket(bucketHistory)
		if hist.Bucket([]byte(deviceID)) == nil {
			return nil
		}
		return hist.DeleteBucket([]byte(deviceID))
	})
}

func (s *BoltStore) ListSnapshots() ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return nil
		}
		snaps = make([]*Snapshot, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
			return nil
		})
	})
	return snaps, err
}

func (s *BoltStore) History(deviceID string, limit int) ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory).Bucket([]byte(deviceID))
		if b == nil {
			return fmt.Errorf("history %s: %w", deviceID, ErrNotFound)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(snaps) < limit); k, v = c.Prev() {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
