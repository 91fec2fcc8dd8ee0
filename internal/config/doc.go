// Package config loads and normalizes service configuration.
//
// Settings come from three layers, later layers winning: built-in defaults,
// an optional JSON config file, and RUNBEAM_* environment variables. All
// durations are carried as millisecond integers on the wire with typed
// accessors for use in code.
package config
