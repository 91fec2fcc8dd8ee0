package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the tunable settings for the run service. Zero values mean
// "use the default"; call Normalize (or start from Default) before use.
type Config struct {
	// CompletedRunTTLMs is how long a terminal run's state and events stay
	// readable before the retention sweeper removes them.
	CompletedRunTTLMs int64 `json:"completed_run_ttl_ms"`

	// IdleTimeoutMs is how long a subscriber waits without new events before
	// it checks run liveness and, for a dead producer, gives up.
	IdleTimeoutMs int64 `json:"idle_timeout_ms"`

	// KeepAliveMs is the interval between SSE keep-alive comment frames.
	KeepAliveMs int64 `json:"keep_alive_ms"`

	// SSERetryMs is the reconnect delay advertised to SSE clients.
	SSERetryMs int64 `json:"sse_retry_ms"`

	// SubscribeBatch caps how many stored events a catch-up read pulls per
	// iteration before yielding to the live loop.
	SubscribeBatch int `json:"subscribe_batch"`

	// SweepIntervalMs is how often the retention sweeper scans for expired
	// runs. Zero disables the background sweeper.
	SweepIntervalMs int64 `json:"sweep_interval_ms"`

	// StallFailAfterMs, when positive, fails a non-terminal run whose
	// producer has stopped heartbeating for this long. Zero disables the
	// watchdog and stalled runs stay open until a subscriber times out.
	StallFailAfterMs int64 `json:"stall_fail_after_ms"`

	// PayloadMaxBytes caps the size of a single published event payload.
	PayloadMaxBytes int `json:"payload_max_bytes"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		CompletedRunTTLMs: 24 * 60 * 60 * 1000,
		IdleTimeoutMs:     30_000,
		KeepAliveMs:       15_000,
		SSERetryMs:        3_000,
		SubscribeBatch:    128,
		SweepIntervalMs:   60_000,
		StallFailAfterMs:  0,
		PayloadMaxBytes:   1 << 20,
	}
}

// Normalize fills zero or negative fields with their defaults.
// StallFailAfterMs is left alone: zero is a valid "disabled" setting.
func (c *Config) Normalize() {
	d := Default()
	if c.CompletedRunTTLMs <= 0 {
		c.CompletedRunTTLMs = d.CompletedRunTTLMs
	}
	if c.IdleTimeoutMs <= 0 {
		c.IdleTimeoutMs = d.IdleTimeoutMs
	}
	if c.KeepAliveMs <= 0 {
		c.KeepAliveMs = d.KeepAliveMs
	}
	if c.SSERetryMs <= 0 {
		c.SSERetryMs = d.SSERetryMs
	}
	if c.SubscribeBatch <= 0 {
		c.SubscribeBatch = d.SubscribeBatch
	}
	if c.SweepIntervalMs < 0 {
		c.SweepIntervalMs = d.SweepIntervalMs
	}
	if c.StallFailAfterMs < 0 {
		c.StallFailAfterMs = 0
	}
	if c.PayloadMaxBytes <= 0 {
		c.PayloadMaxBytes = d.PayloadMaxBytes
	}
}

// CompletedRunTTL returns the retention window as a duration.
func (c *Config) CompletedRunTTL() time.Duration {
	return time.Duration(c.CompletedRunTTLMs) * time.Millisecond
}

// IdleTimeout returns the subscriber idle window as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// KeepAlive returns the SSE keep-alive interval as a duration.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveMs) * time.Millisecond
}

// SSERetry returns the advertised SSE reconnect delay as a duration.
func (c *Config) SSERetry() time.Duration {
	return time.Duration(c.SSERetryMs) * time.Millisecond
}

// SweepInterval returns the retention sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// StallFailAfter returns the producer stall window as a duration.
func (c *Config) StallFailAfter() time.Duration {
	return time.Duration(c.StallFailAfterMs) * time.Millisecond
}

// Load reads a config file, applies environment overrides, and normalizes the
// result. An empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("unsupported config format %q (want .json)", filepath.Ext(path))
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}
