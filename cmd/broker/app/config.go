// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/tableau-broker/pkg/authserver"
)

const (
	envPrefix = "BROKER"

	defaultListenAddress        = ":8080"
	defaultMetricsListenAddress = ":9090"
)

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`

	// IncludeRuntimeMetrics adds Go runtime and process collectors.
	IncludeRuntimeMetrics bool `mapstructure:"include_runtime_metrics" yaml:"include_runtime_metrics"`
}

// Config is the full process configuration: listener settings plus the
// broker configuration at the top level of the file.
type Config struct {
	ListenAddress string        `mapstructure:"listen_address" yaml:"listen_address"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	authserver.Config `mapstructure:",squash" yaml:",inline"`
}

// configKeys lists every setting that may be supplied through the
// environment. Viper only consults the environment for keys it knows about.
var configKeys = []string{
	"listen_address",
	"metrics.enabled",
	"metrics.address",
	"metrics.include_runtime_metrics",

	"enabled",
	"server_url",
	"resource_url",
	"audience",
	"signing_secret",
	"client_id",
	"baseline_scope",
	"scopes_supported",
	"pending_authorization_ttl",
	"auth_code_ttl",
	"refresh_token_ttl",
	"token_expiry_margin",
	"token_max_lifetime",
	"rotate_refresh_tokens",

	"upstream.type",
	"upstream.base_url",
	"upstream.issuer",
	"upstream.authorization_endpoint",
	"upstream.token_endpoint",
	"upstream.client_id",
	"upstream.client_secret",
	"upstream.scopes",
	"upstream.timeout",
	"upstream.ca_bundle",
	"upstream.userinfo.endpoint_url",
	"upstream.userinfo.http_method",
	"upstream.userinfo.subject_field",
	"upstream.userinfo.name_field",
	"upstream.userinfo.email_field",

	"storage.type",
	"storage.cleanup_interval",
	"storage.max_entries",
	"storage.redis.addrs",
	"storage.redis.master_name",
	"storage.redis.username",
	"storage.redis.password",
	"storage.redis.db",
	"storage.redis.key_prefix",
	"storage.redis.dial_timeout",
	"storage.redis.read_timeout",
	"storage.redis.write_timeout",
}

// loadConfig reads the optional config file named by the "config" key and
// overlays BROKER_* environment variables, for example BROKER_SIGNING_SECRET
// or BROKER_UPSTREAM_CLIENT_SECRET.
func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("metrics.address", defaultMetricsListenAddress)
	v.SetDefault("enabled", true)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}
