package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps records in process memory. It is used by tests and by
// the "memory" cache backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[key] = clone(value)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	next, remove, err := fn(clone(cur), ok)
	if err != nil {
		return err
	}
	if remove {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = clone(next)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Store = (*MemoryStore)(nil)
