package storage

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Bolt is an Opener backed by a bbolt database file. Each namespace is a
// bucket.
type Bolt struct {
	db     *bolt.DB
	logger *zap.Logger
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string, logger *zap.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	logger.Debug("Opened store", zap.String("path", path))
	return &Bolt{db: db, logger: logger}, nil
}

func (b *Bolt) Open(namespace string) (Store, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(namespace))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace %q: %w", namespace, err)
	}
	return &boltStore{db: b.db, bucket: []byte(namespace)}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

type boltStore struct {
	db     *bolt.DB
	bucket []byte
}

func (s *boltStore) Read(key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return fmt.Errorf("namespace %q does not exist", s.bucket)
		}
		// Values returned by Get are only valid inside the transaction.
		if v := bucket.Get([]byte(key)); v != nil {
			value, found = bytes.Clone(v), true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (s *boltStore) Write(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return fmt.Errorf("namespace %q does not exist", s.bucket)
		}
		return bucket.Put([]byte(key), value)
	})
}
