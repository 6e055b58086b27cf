// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore is a thread-safe, process-local Store. Expiry is checked on
// every read, and a background sweep removes entries nobody reads again.
// State does not survive a restart and is not shared between instances;
// use RedisStore for that.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	name    string
	entries map[string]*timedEntry[T]

	maxEntries      int
	cleanupInterval time.Duration
	now             func() time.Time

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}
	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*memoryOptions)

type memoryOptions struct {
	cleanupInterval time.Duration
	maxEntries      int
	now             func() time.Time
}

// WithCleanupInterval sets a custom cleanup interval. Zero disables the sweep.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = interval
	}
}

// WithMaxEntries caps the number of entries. Zero means unbounded.
func WithMaxEntries(n int) MemoryStoreOption {
	return func(o *memoryOptions) {
		o.maxEntries = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(o *memoryOptions) {
		o.now = now
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
// name only labels log lines.
func NewMemoryStore[T any](name string, opts ...MemoryStoreOption) *MemoryStore[T] {
	o := memoryOptions{
		cleanupInterval: DefaultCleanupInterval,
		maxEntries:      DefaultMaxEntries,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &MemoryStore[T]{
		name:            name,
		entries:         make(map[string]*timedEntry[T]),
		maxEntries:      o.maxEntries,
		cleanupInterval: o.cleanupInterval,
		now:             o.now,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	} else {
		close(s.cleanupDone)
	}

	return s
}

// Set implements Store.
func (s *MemoryStore[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.removeExpiredLocked(now)
		if len(s.entries) >= s.maxEntries {
			return fmt.Errorf("%w: %s store holds %d entries", ErrCapacity, s.name, len(s.entries))
		}
	}

	s.entries[key] = &timedEntry[T]{
		value:     value,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Get implements Store. An expired entry is removed and reported as ErrNotFound.
func (s *MemoryStore[T]) Get(_ context.Context, key string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.liveEntryLocked(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return entry.value, nil
}

// Take implements Store.
func (s *MemoryStore[T]) Take(_ context.Context, key string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.liveEntryLocked(key)
	if err != nil {
		var zero T
		return zero, err
	}
	delete(s.entries, key)
	return entry.value, nil
}

// Delete implements Store.
func (s *MemoryStore[T]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the cleanup goroutine and waits for it to exit.
func (s *MemoryStore[T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
	return nil
}

// liveEntryLocked must be called with mu held.
func (s *MemoryStore[T]) liveEntryLocked(key string) (*timedEntry[T], error) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.name)
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.name)
	}
	return entry, nil
}

func (s *MemoryStore[T]) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes all expired entries.
func (s *MemoryStore[T]) cleanupExpired() {
	s.mu.Lock()
	removed := s.removeExpiredLocked(s.now())
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		slog.Debug("swept expired entries",
			"store", s.name,
			"removed", removed,
			"remaining", remaining,
		)
	}
}

// removeExpiredLocked must be called with mu held.
func (s *MemoryStore[T]) removeExpiredLocked(now time.Time) int {
	var expired []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.entries, key)
	}
	return len(expired)
}

// Compile-time interface compliance checks
var (
	_ Store[PendingAuthorization] = (*MemoryStore[PendingAuthorization])(nil)
	_ Store[AuthorizationCode]    = (*MemoryStore[AuthorizationCode])(nil)
	_ Store[RefreshTokenRecord]   = (*MemoryStore[RefreshTokenRecord])(nil)
)
