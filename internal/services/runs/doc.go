// Package runsvc implements the run lifecycle: the publisher write path
// (open, publish, complete/fail, legacy message updates), the resumable
// subscriber read path, ownership checks, the conversation → active
// generation index, and retention sweeping.
//
// The per-run event log is the source of truth; the snapshot under
// run/state/{runId} is its cached fold and the two are kept consistent by
// folding every event through runstate.RunState.Fold on the publish path.
// Producers and subscribers share one eventlog.Log instance per run via the
// runtime cache, which is what carries the live append signal.
package runsvc
