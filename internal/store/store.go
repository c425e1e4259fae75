package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists the configuration that was last committed to each device.
type Store interface {
	// SaveSnapshot records s as the device's latest snapshot and appends it
	// to the device's commit history.
	SaveSnapshot(s *Snapshot) error
	GetSnapshot(deviceID string) (*Snapshot, error)
	DeleteSnapshot(deviceID string) error
	ListSnapshots() ([]*Snapshot, error)

	// History returns up to limit snapshots, newest first.
	History(deviceID string, limit int) ([]*Snapshot, error)

	Close() error
}
