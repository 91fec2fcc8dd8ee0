package config

import (
	"os"
	"strconv"
)

// Environment variable names recognized by applyEnv. Values are integers;
// *_MS variables are milliseconds.
const (
	EnvCompletedRunTTLMs = "RUNBEAM_COMPLETED_RUN_TTL_MS"
	EnvIdleTimeoutMs     = "RUNBEAM_IDLE_TIMEOUT_MS"
	EnvKeepAliveMs       = "RUNBEAM_KEEP_ALIVE_MS"
	EnvSSERetryMs        = "RUNBEAM_SSE_RETRY_MS"
	EnvSubscribeBatch    = "RUNBEAM_SUBSCRIBE_BATCH"
	EnvSweepIntervalMs   = "RUNBEAM_SWEEP_INTERVAL_MS"
	EnvStallFailAfterMs  = "RUNBEAM_STALL_FAIL_AFTER_MS"
	EnvPayloadMaxBytes   = "RUNBEAM_PAYLOAD_MAX_BYTES"
)

// applyEnv overlays environment variables on top of the loaded config.
// Malformed values are ignored rather than fatal.
func (c *Config) applyEnv() {
	envInt64(EnvCompletedRunTTLMs, &c.CompletedRunTTLMs)
	envInt64(EnvIdleTimeoutMs, &c.IdleTimeoutMs)
	envInt64(EnvKeepAliveMs, &c.KeepAliveMs)
	envInt64(EnvSSERetryMs, &c.SSERetryMs)
	envInt(EnvSubscribeBatch, &c.SubscribeBatch)
	envInt64(EnvSweepIntervalMs, &c.SweepIntervalMs)
	envInt64(EnvStallFailAfterMs, &c.StallFailAfterMs)
	envInt(EnvPayloadMaxBytes, &c.PayloadMaxBytes)
}

func envInt64(name string, dst *int64) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
