package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Snapshot is one Server Frame's own mutable copy of the recognized
// config keys. It starts as a clone of the process config and is
// thereafter mutated through Update (the update_config handler) and,
// when the config file is reloaded, Replace.
// A live Proxy Worker always reads through a Snapshot, never the process
// Config directly, so config changes affect subsequent work only.
type Snapshot struct {
	mu sync.RWMutex
	v  Config
}

// NewSnapshot clones base into a fresh, independently-mutable Snapshot.
func NewSnapshot(base Config) *Snapshot {
	return &Snapshot{v: base}
}

func (s *Snapshot) get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *Snapshot) ProxyTestMaxConcurrentConn() int   { return s.get().ProxyTestMaxConcurrentConn }
func (s *Snapshot) ProxyTestURL() string              { return s.get().ProxyTestURL }
func (s *Snapshot) ProxyTestTimeout() time.Duration   { return s.get().ProxyTestTimeout }
func (s *Snapshot) ProxyHeartbeat() time.Duration     { return s.get().ProxyHeartbeat }
func (s *Snapshot) ProxyRefreshListInterval() time.Duration {
	return s.get().ProxyRefreshListInterval
}
func (s *Snapshot) FetcherFetchIntervalPerProxy() time.Duration {
	return s.get().FetcherFetchIntervalPerProxy
}
func (s *Snapshot) FetcherGlobalConcurrentConn() int { return s.get().FetcherGlobalConcurrentConn }
func (s *Snapshot) FetchRequestTimeout() time.Duration {
	return s.get().FetchRequestTimeout
}
func (s *Snapshot) FetchRequestCache() bool             { return s.get().FetchRequestCache }
func (s *Snapshot) FetchRequestCacheMaxSize() int64     { return s.get().FetchRequestCacheMaxSize }
func (s *Snapshot) FetchRequestCacheTimeout() time.Duration {
	return s.get().FetchRequestCacheTimeout
}
func (s *Snapshot) QueueMaxDepth() int { return s.get().QueueMaxDepth }

// Replace swaps in an entirely new Config, bypassing the update_config
// whitelist. Used by the file watcher on a config reload, where every
// field (not just the RPC-tunable subset) is allowed to change.
func (s *Snapshot) Replace(next Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = next
}

// updatable lists every key update_config is allowed to touch, and how to
// apply a raw JSON value onto the snapshot. Keys outside this set, or
// values that don't decode to the expected type, are rejected.
var updatable = map[string]func(*Config, json.RawMessage) error{
	"proxy_test_max_concurrent_conn":   intField(func(c *Config) *int { return &c.ProxyTestMaxConcurrentConn }),
	"proxy_test_url":                   stringField(func(c *Config) *string { return &c.ProxyTestURL }),
	"proxy_test_timeout":               durationField(func(c *Config) *time.Duration { return &c.ProxyTestTimeout }),
	"proxy_heartbeat":                  durationField(func(c *Config) *time.Duration { return &c.ProxyHeartbeat }),
	"proxy_refresh_list_interval":      durationField(func(c *Config) *time.Duration { return &c.ProxyRefreshListInterval }),
	"fetcher_fetch_interval_per_proxy": durationField(func(c *Config) *time.Duration { return &c.FetcherFetchIntervalPerProxy }),
	"fetcher_global_concurrent_conn":   intField(func(c *Config) *int { return &c.FetcherGlobalConcurrentConn }),
	"fetch_request_timeout":            durationField(func(c *Config) *time.Duration { return &c.FetchRequestTimeout }),
	"fetch_request_cache":              boolField(func(c *Config) *bool { return &c.FetchRequestCache }),
	"fetch_request_cache_maxsize":      int64Field(func(c *Config) *int64 { return &c.FetchRequestCacheMaxSize }),
	"fetch_request_cache_timeout":      durationField(func(c *Config) *time.Duration { return &c.FetchRequestCacheTimeout }),
	"queue_max_depth":                  intField(func(c *Config) *int { return &c.QueueMaxDepth }),
}

func intField(sel func(*Config) *int) func(*Config, json.RawMessage) error {
	return func(c *Config, raw json.RawMessage) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*sel(c) = v
		return nil
	}
}

func int64Field(sel func(*Config) *int64) func(*Config, json.RawMessage) error {
	return func(c *Config, raw json.RawMessage) error {
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*sel(c) = v
		return nil
	}
}

func boolField(sel func(*Config) *bool) func(*Config, json.RawMessage) error {
	return func(c *Config, raw json.RawMessage) error {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*sel(c) = v
		return nil
	}
}

func stringField(sel func(*Config) *string) func(*Config, json.RawMessage) error {
	return func(c *Config, raw json.RawMessage) error {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*sel(c) = v
		return nil
	}
}

func durationField(sel func(*Config) *time.Duration) func(*Config, json.RawMessage) error {
	return func(c *Config, raw json.RawMessage) error {
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return err
		}
		*sel(c) = time.Duration(secs * float64(time.Second))
		return nil
	}
}

// Update shallow-merges raw key/value pairs into the snapshot. Unknown
// keys or type-mismatched values abort the whole update and return an
// error; partial application is avoided by operating on a copy first.
func (s *Snapshot) Update(raw map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.v
	for key, value := range raw {
		apply, ok := updatable[key]
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		if err := apply(&next, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}

	s.v = next
	return nil
}
