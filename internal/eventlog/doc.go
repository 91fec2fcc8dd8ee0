// Package eventlog stores one ordered, append-only event log per run on top
// of Pebble.
//
// Each event is framed as varint headerLen | header | payload | crc32c and
// stored under a big-endian sequence key so iteration order equals publish
// order. Sequences start at 1 and are assigned under the log mutex; a batch
// of appends commits atomically and subscribers are signaled only after the
// commit succeeds, so an observed event is always a durable event.
//
// Corrupt records fail checksum verification on read and are skipped rather
// than terminating the scan.
package eventlog
