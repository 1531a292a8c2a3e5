// Package config defines the recognized configuration keys, their
// defaults, YAML loading, and the per-Frame mutable Snapshot that
// update_config is allowed to mutate at runtime. A live Proxy Worker
// reads from the owning frame's snapshot, so config changes affect
// subsequent work, not in-flight fetches.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized tuning key, plus the ambient
// transport/server settings. Field names map to lower snake_case keys
// via the yaml tags below.
type Config struct {
	ProxyTestMaxConcurrentConn   int           `yaml:"proxy_test_max_concurrent_conn"`
	ProxyTestURL                 string        `yaml:"proxy_test_url"`
	ProxyTestTimeout             time.Duration `yaml:"proxy_test_timeout"`
	ProxyHeartbeat               time.Duration `yaml:"proxy_heartbeat"`
	ProxyRefreshListInterval     time.Duration `yaml:"proxy_refresh_list_interval"`
	FetcherFetchIntervalPerProxy time.Duration `yaml:"fetcher_fetch_interval_per_proxy"`
	FetcherGlobalConcurrentConn  int           `yaml:"fetcher_global_concurrent_conn"`
	FetchRequestTimeout          time.Duration `yaml:"fetch_request_timeout"`
	FetchRequestCache            bool          `yaml:"fetch_request_cache"`
	FetchRequestCacheMaxSize     int64         `yaml:"fetch_request_cache_maxsize"`
	FetchRequestCacheTimeout     time.Duration `yaml:"fetch_request_cache_timeout"`

	QueueMaxDepth int `yaml:"queue_max_depth"`

	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds the transport adapter settings.
type ServerConfig struct {
	Stdio struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"stdio"`

	WebSocket struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"websocket"`

	ZeroMQ struct {
		Enabled bool   `yaml:"enabled"`
		Bind    string `yaml:"bind"`
	} `yaml:"zeromq"`

	Redis struct {
		Enabled            bool   `yaml:"enabled"`
		Address            string `yaml:"address"`
		RequestKey         string `yaml:"request_key"`
		ResponseKeyPrefix  string `yaml:"response_key_prefix"`
		WorkInProgressKey  string `yaml:"work_in_progress_key"`
	} `yaml:"redis"`

	Dashboard struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"dashboard"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"metrics"`
}

// Default returns the reference default configuration values.
func Default() Config {
	return Config{
		ProxyTestMaxConcurrentConn:   20,
		ProxyTestURL:                 "http://myexternalip.com/json",
		ProxyTestTimeout:             10 * time.Second,
		ProxyHeartbeat:               120 * time.Second,
		ProxyRefreshListInterval:     300 * time.Second,
		FetcherFetchIntervalPerProxy: 3 * time.Second,
		FetcherGlobalConcurrentConn:  1000,
		FetchRequestTimeout:          20 * time.Second,
		FetchRequestCache:            false,
		FetchRequestCacheMaxSize:     500 * 1024,
		FetchRequestCacheTimeout:     3600 * time.Second,
		QueueMaxDepth:                10000,
	}
}

// Load reads a YAML config file over top of Default(), so an empty or
// partial file still yields a fully-populated Config.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, Validate(&cfg)
}

// Validate rejects configurations that cannot produce a working broker.
func Validate(c *Config) error {
	if c.ProxyTestURL == "" {
		return fmt.Errorf("proxy_test_url must not be empty")
	}
	if c.ProxyTestMaxConcurrentConn <= 0 {
		return fmt.Errorf("proxy_test_max_concurrent_conn must be positive")
	}
	if c.FetcherGlobalConcurrentConn <= 0 {
		return fmt.Errorf("fetcher_global_concurrent_conn must be positive")
	}
	return nil
}
