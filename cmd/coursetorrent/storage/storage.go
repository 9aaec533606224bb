// Package storage holds the key-value persistence used for torrent state.
//
// Entries are never deleted: removing a key writes Tombstone in its place.
package storage

import "bytes"

// Tombstone is written in place of a removed entry.
var Tombstone = []byte("this entry deleted entry")

// Store is a single namespace of byte values keyed by string.
type Store interface {
	// Read returns the value stored under key and whether one was found.
	// A tombstoned key is reported as found; use Live to filter it.
	Read(key string) ([]byte, bool, error)
	Write(key string, value []byte) error
}

// Opener opens named namespaces. Opening the same name twice yields views of
// the same data.
type Opener interface {
	Open(namespace string) (Store, error)
}

// Live reads key and reports it as absent if it was never written or was
// removed.
func Live(s Store, key string) ([]byte, bool, error) {
	value, ok, err := s.Read(key)
	if err != nil || !ok || bytes.Equal(value, Tombstone) {
		return nil, false, err
	}
	return value, true, nil
}

// Remove tombstones key.
func Remove(s Store, key string) error {
	return s.Write(key, Tombstone)
}
