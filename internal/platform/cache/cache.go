// Package cache provides the key/value store the configuration resolver
// keeps resolved lookups in. Two backends exist: an in-process map for
// single-node deployments and tests, and Redis for anything with more than
// one API replica, where invalidation on activation has to reach every
// node.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store is the cache contract. Values are opaque bytes; callers marshal.
// A miss is (nil, false, nil) — errors are reserved for backend failures,
// so callers can treat any error as a miss without masking outages in logs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key under a prefix. Activation flushes a
	// whole form kind this way rather than enumerating team keys.
	DeletePrefix(ctx context.Context, prefix string) error

	// Ping reports backend health for readiness checks.
	Ping(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process Store with lazy expiration.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Get retrieves a value. Expired entries are deleted on access.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{data: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes the named keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// DeletePrefix removes every key under the prefix.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// StartCleanup runs a background goroutine that periodically removes
// expired entries. It stops when the context is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := time.Now()
				for k, v := range s.entries {
					if now.After(v.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}
