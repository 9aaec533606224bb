package storage

import (
	"bytes"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory is an in-process Opener. It is safe for concurrent use.
type Memory struct {
	namespaces *xsync.MapOf[string, *memoryStore]
}

func NewMemory() *Memory {
	return &Memory{namespaces: xsync.NewMapOf[string, *memoryStore]()}
}

func (m *Memory) Open(namespace string) (Store, error) {
	store, _ := m.namespaces.LoadOrStore(namespace, &memoryStore{
		entries: xsync.NewMapOf[string, []byte](),
	})
	return store, nil
}

type memoryStore struct {
	entries *xsync.MapOf[string, []byte]
}

func (s *memoryStore) Read(key string) ([]byte, bool, error) {
	value, ok := s.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(value), true, nil
}

func (s *memoryStore) Write(key string, value []byte) error {
	s.entries.Store(key, bytes.Clone(value))
	return nil
}
