// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryStore[T any](t *testing.T, opts ...MemoryStoreOption) (*MemoryStore[T], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]MemoryStoreOption{WithCleanupInterval(0), WithClock(clock.Now)}, opts...)
	s := NewMemoryStore[T]("test", opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestMemoryStore_SetGetTakeDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestMemoryStore[AuthorizationCode](t)

	code := AuthorizationCode{ClientID: "client", ClientCodeChallenge: "challenge", User: User{ID: "user-1"}}
	require.NoError(t, s.Set(ctx, "code-1", code, time.Minute))

	got, err := s.Get(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, code, got)

	// Get does not remove.
	_, err = s.Get(ctx, "code-1")
	require.NoError(t, err)

	taken, err := s.Take(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, code, taken)

	_, err = s.Take(ctx, "code-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "code-2", code, time.Minute))
	require.NoError(t, s.Delete(ctx, "code-2"))
	_, err = s.Get(ctx, "code-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is fine.
	assert.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestMemoryStore_ExpiryLooksLikeMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestMemoryStore[PendingAuthorization](t)

	require.NoError(t, s.Set(ctx, "key", PendingAuthorization{ClientID: "c"}, time.Minute))
	clock.Advance(time.Minute)

	_, expiredErr := s.Get(ctx, "key")
	_, missingErr := s.Get(ctx, "other")
	require.ErrorIs(t, expiredErr, ErrNotFound)
	require.ErrorIs(t, missingErr, ErrNotFound)
	assert.Equal(t, missingErr.Error(), expiredErr.Error())

	// Lazy expiry removed the entry.
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_RejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()
	s, _ := newTestMemoryStore[RefreshTokenRecord](t)

	assert.ErrorIs(t, s.Set(context.Background(), "k", RefreshTokenRecord{}, 0), ErrInvalidTTL)
	assert.ErrorIs(t, s.Set(context.Background(), "k", RefreshTokenRecord{}, -time.Second), ErrInvalidTTL)
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestMemoryStore[PendingAuthorization](t)

	require.NoError(t, s.Set(ctx, "short", PendingAuthorization{}, time.Minute))
	require.NoError(t, s.Set(ctx, "long", PendingAuthorization{}, time.Hour))
	clock.Advance(2 * time.Minute)

	// Abandoned entries linger until swept.
	assert.Equal(t, 2, s.Len())
	s.cleanupExpired()
	assert.Equal(t, 1, s.Len())

	_, err := s.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryStore_CleanupLoopRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore[PendingAuthorization]("loop", WithCleanupInterval(10*time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(ctx, "k", PendingAuthorization{}, time.Millisecond))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_MaxEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := newTestMemoryStore[PendingAuthorization](t, WithMaxEntries(2))

	require.NoError(t, s.Set(ctx, "a", PendingAuthorization{}, time.Minute))
	require.NoError(t, s.Set(ctx, "b", PendingAuthorization{}, time.Hour))

	err := s.Set(ctx, "c", PendingAuthorization{}, time.Minute)
	require.ErrorIs(t, err, ErrCapacity)

	// Overwriting an existing key is always allowed.
	require.NoError(t, s.Set(ctx, "a", PendingAuthorization{ClientID: "updated"}, time.Minute))

	// Expired entries are evicted to make room.
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Set(ctx, "c", PendingAuthorization{}, time.Minute))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_ConcurrentTake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestMemoryStore[AuthorizationCode](t)

	const attempts = 50
	for round := 0; round < 20; round++ {
		require.NoError(t, s.Set(ctx, "code", AuthorizationCode{ClientID: "c"}, time.Minute))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			start     = make(chan struct{})
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := s.Take(ctx, "code"); err == nil {
					successes.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load(), "round %d", round)
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore[User]("users")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
