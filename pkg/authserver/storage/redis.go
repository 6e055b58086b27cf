// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addrs is a single "host:port" for a standalone server or several for a cluster.
	Addrs []string `mapstructure:"addrs" yaml:"addrs"`

	// MasterName switches to Sentinel failover when set; Addrs then lists sentinels.
	MasterName string `mapstructure:"master_name" yaml:"master_name"`

	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	// KeyPrefix namespaces keys, e.g. "broker:prod:".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

func (c RedisConfig) validate() error {
	if len(c.Addrs) == 0 {
		return errors.New("at least one redis address is required")
	}
	if c.KeyPrefix == "" {
		return errors.New("redis key prefix is required")
	}
	return nil
}

// NewRedisClient creates a UniversalClient from cfg and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	// Apply defaults
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisStore is a Store backed by Redis. Values are JSON encoded and expiry
// is delegated to Redis key TTLs, so no sweep is needed. Several RedisStores
// share one client, which the owner of the client closes.
type RedisStore[T any] struct {
	client    redis.UniversalClient
	keyPrefix string
	namespace string
}

// NewRedisStore creates a RedisStore on a pre-configured client.
// This is also the constructor used with miniredis in tests.
func NewRedisStore[T any](client redis.UniversalClient, keyPrefix, namespace string) *RedisStore[T] {
	return &RedisStore[T]{
		client:    client,
		keyPrefix: keyPrefix,
		namespace: namespace,
	}
}

// redisKey generates a Redis key: {prefix}{namespace}:{id}
func redisKey(prefix, namespace, id string) string {
	return fmt.Sprintf("%s%s:%s", prefix, namespace, id)
}

func (s *RedisStore[T]) key(id string) string {
	return redisKey(s.keyPrefix, s.namespace, id)
}

// Set implements Store.
func (s *RedisStore[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", s.namespace, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s entry: %w", s.namespace, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	return s.decode(data, err)
}

// Take implements Store using GETDEL, which is atomic on the server.
func (s *RedisStore[T]) Take(ctx context.Context, key string) (T, error) {
	data, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	return s.decode(data, err)
}

// Delete implements Store.
func (s *RedisStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s entry: %w", s.namespace, err)
	}
	return nil
}

// Close implements Store. The shared client is left open.
func (*RedisStore[T]) Close() error {
	return nil
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore[T]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore[T]) decode(data []byte, err error) (T, error) {
	var value T
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return value, fmt.Errorf("%w: %s", ErrNotFound, s.namespace)
		}
		return value, fmt.Errorf("failed to read %s entry: %w", s.namespace, err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal %s entry: %w", s.namespace, err)
	}
	return value, nil
}

// Compile-time interface compliance checks
var (
	_ Store[PendingAuthorization] = (*RedisStore[PendingAuthorization])(nil)
	_ Store[AuthorizationCode]    = (*RedisStore[AuthorizationCode])(nil)
	_ Store[RefreshTokenRecord]   = (*RedisStore[RefreshTokenRecord])(nil)
)
