// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Namespaces for the three broker stores.
const (
	NamespacePending = "pending"
	NamespaceCode    = "code"
	NamespaceRefresh = "refresh"
)

// Stores bundles the three stores the broker needs.
type Stores struct {
	Pending       Store[PendingAuthorization]
	Codes         Store[AuthorizationCode]
	RefreshTokens Store[RefreshTokenRecord]

	client redis.UniversalClient
}

// New creates Stores for the backend selected by cfg.
func New(ctx context.Context, cfg Config) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStores(
			WithCleanupInterval(cfg.CleanupInterval),
			WithMaxEntries(cfg.MaxEntries),
		), nil
	case TypeRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		stores := NewRedisStores(client, cfg.Redis.KeyPrefix)
		stores.client = client
		return stores, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewMemoryStores creates in-memory Stores sharing the same options.
func NewMemoryStores(opts ...MemoryStoreOption) *Stores {
	return &Stores{
		Pending:       NewMemoryStore[PendingAuthorization](NamespacePending, opts...),
		Codes:         NewMemoryStore[AuthorizationCode](NamespaceCode, opts...),
		RefreshTokens: NewMemoryStore[RefreshTokenRecord](NamespaceRefresh, opts...),
	}
}

// NewRedisStores creates Redis-backed Stores on client. The caller keeps
// ownership of client.
func NewRedisStores(client redis.UniversalClient, keyPrefix string) *Stores {
	return &Stores{
		Pending:       NewRedisStore[PendingAuthorization](client, keyPrefix, NamespacePending),
		Codes:         NewRedisStore[AuthorizationCode](client, keyPrefix, NamespaceCode),
		RefreshTokens: NewRedisStore[RefreshTokenRecord](client, keyPrefix, NamespaceRefresh),
	}
}

// pinger is implemented by stores backed by an external service.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the backend of every store that has one. Memory stores have
// nothing to check.
func (s *Stores) Ping(ctx context.Context) error {
	for _, store := range []any{s.Pending, s.Codes, s.RefreshTokens} {
		p, ok := store.(pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("storage health check failed: %w", err)
		}
	}
	return nil
}

// Close closes every store, and the Redis client when New created it.
func (s *Stores) Close() error {
	errs := []error{
		s.Pending.Close(),
		s.Codes.Close(),
		s.RefreshTokens.Close(),
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	return errors.Join(errs...)
}
