package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/types"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryIndex struct {
	ids       []string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Values are kept as JSON so that callers
// observe the same copy semantics as with Redis.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	indices    map[string]*memoryIndex
	defaultTTL time.Duration
	now        func() time.Time
	closed     bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		indices:    make(map[string]*memoryIndex),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// WithClock replaces the clock used for expiry. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *MemoryStore) PutJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewStoreUnavailableError("put "+key, errors.New("store is closed"))
	}
	s.entries[key] = memoryEntry{data: data, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) GetJSON(_ context.Context, key string, dest any) error {
	s.mu.RLock()
	entry, ok := s.entries[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return types.NewStoreUnavailableError("get "+key, errors.New("store is closed"))
	}
	if !ok || s.expired(entry.expiresAt) {
		return ErrNotFound
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
		delete(s.indices, k)
	}
	return nil
}

func (s *MemoryStore) AppendIndex(_ context.Context, index, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewStoreUnavailableError("append "+index, errors.New("store is closed"))
	}

	idx, ok := s.indices[index]
	if !ok || s.expired(idx.expiresAt) {
		idx = &memoryIndex{}
		s.indices[index] = idx
	}
	idx.ids = append(idx.ids, id)
	idx.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) ReadIndex(_ context.Context, index string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewStoreUnavailableError("read "+index, errors.New("store is closed"))
	}

	idx, ok := s.indices[index]
	if !ok || s.expired(idx.expiresAt) {
		return nil, nil
	}
	out := make([]string, len(idx.ids))
	copy(out, idx.ids)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewStoreUnavailableError("ping", errors.New("store is closed"))
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
