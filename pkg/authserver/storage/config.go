// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses a Redis server, for deployments with more than one broker instance.
	TypeRedis Type = "redis"
)

const (
	// DefaultPendingAuthorizationTTL bounds how long a user may take at the upstream IdP.
	DefaultPendingAuthorizationTTL = 10 * time.Minute

	// DefaultAuthCodeTTL is the lifetime of a broker-issued authorization code.
	DefaultAuthCodeTTL = 5 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime of a broker-issued refresh token.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour // 30 days

	// DefaultCleanupInterval is how often the memory store sweeps expired entries.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxEntries caps each memory store. Zero disables the cap.
	DefaultMaxEntries = 100_000

	// DefaultKeyPrefix namespaces broker keys in a shared Redis.
	DefaultKeyPrefix = "broker:"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type `mapstructure:"type" yaml:"type"`

	// CleanupInterval is the memory store sweep period. Zero disables the
	// sweep; expired entries are then only dropped on read.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// MaxEntries caps each memory store. Zero means unbounded.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`

	// Redis is required when Type is redis.
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:            TypeMemory,
		CleanupInterval: DefaultCleanupInterval,
		MaxEntries:      DefaultMaxEntries,
		Redis: RedisConfig{
			KeyPrefix:    DefaultKeyPrefix,
			DialTimeout:  DefaultDialTimeout,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
	}
}

// Validate checks the configuration for the selected backend.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory, "":
		if c.MaxEntries < 0 {
			return errors.New("storage max_entries must not be negative")
		}
		return nil
	case TypeRedis:
		return c.Redis.validate()
	default:
		return fmt.Errorf("unknown storage type: %s", c.Type)
	}
}
