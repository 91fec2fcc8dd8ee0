package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
)

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("event not found")

// AppendRecord represents a single appendable event.
type AppendRecord struct {
	Header  []byte
	Payload []byte
}

// Log provides append-only operations for one run's ordered event log.
// Producers and subscribers must share the same Log instance so that the
// append signal reaches live subscribers; the runtime keeps a per-run cache.
type Log struct {
	db    *pebblestore.DB
	runID string

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, runID string) (*Log, error) {
	if runID == "" {
		return nil, errors.New("eventlog: empty run id")
	}
	l := &Log{db: db, runID: runID, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(runID))
	if err == nil && len(meta) >= 8 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	return l, nil
}

// RunID returns the run this log belongs to.
func (l *Log) RunID() string { return l.runID }

// LastSeq returns the highest sequence assigned so far (0 for an empty log).
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append appends the provided records as a single atomic batch and returns
// the assigned sequence numbers (contiguous, starting at 1 for a new log).
// The batch is committed durably before any subscriber is signaled.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(recs))
	for i, r := range recs {
		l.lastSeq++
		seq := l.lastSeq
		val := EncodeRecord(r.Header, r.Payload)
		if err := b.Set(KeyLogEntry(l.runID, seq), val, nil); err != nil {
			l.lastSeq -= uint64(i + 1)
			return nil, err
		}
		seqs[i] = seq
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], l.lastSeq)
	if err := b.Set(KeyLogMeta(l.runID), meta[:], nil); err != nil {
		l.lastSeq -= uint64(len(recs))
		return nil, err
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		l.lastSeq -= uint64(len(recs))
		return nil, err
	}

	// Wake waiters only after the batch is durable.
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

// AppendSignal returns a channel that is closed on the next successful append.
// Subscribers grab a fresh channel each loop iteration.
func (l *Log) AppendSignal() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// WaitForAppend blocks until a new append occurs, the timeout elapses, or the
// context is done. It returns true only when woken by an append.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	ch := l.AppendSignal()
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Purge removes every stored key for this run's log, entries and metadata, in
// one atomic range delete. The in-memory sequence resets with it.
func (l *Log) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.DeleteRange(ctx, KeyLogPrefix(l.runID), KeyLogPrefixEnd(l.runID)); err != nil {
		return err
	}
	l.lastSeq = 0
	return nil
}
