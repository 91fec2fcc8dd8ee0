package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - run/log/{runId}/m            last assigned sequence (8 bytes big-endian)
// - run/log/{runId}/e/{seq_be8}  encoded event record

var (
	logPrefix  = []byte("run/log/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyLogMeta builds the per-run log metadata key.
func KeyLogMeta(runID string) []byte {
	k := make([]byte, 0, len(logPrefix)+len(runID)+len(metaSuffix))
	k = append(k, logPrefix...)
	k = append(k, runID...)
	k = append(k, metaSuffix...)
	return k
}

// KeyLogEntry builds the entry key with a big-endian sequence for ordering.
func KeyLogEntry(runID string, seq uint64) []byte {
	k := make([]byte, 0, len(logPrefix)+len(runID)+len(entrySeg)+8)
	k = append(k, logPrefix...)
	k = append(k, runID...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// KeyLogPrefix returns the prefix covering everything stored for a run's log,
// metadata included. Pair with KeyLogPrefixEnd for range deletes.
func KeyLogPrefix(runID string) []byte {
	k := make([]byte, 0, len(logPrefix)+len(runID)+1)
	k = append(k, logPrefix...)
	k = append(k, runID...)
	k = append(k, '/')
	return k
}

// KeyLogPrefixEnd returns the exclusive upper bound for KeyLogPrefix.
func KeyLogPrefixEnd(runID string) []byte {
	k := KeyLogPrefix(runID)
	// '/'+1 == '0', still below any other run id's '/'-terminated prefix.
	k[len(k)-1]++
	return k
}

// SeqFromEntryKey extracts the big-endian sequence from an entry key.
func SeqFromEntryKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
