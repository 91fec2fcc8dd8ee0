package runsvc

import "errors"

var (
	// ErrNotFound means the run (or message) is unknown or already expired.
	ErrNotFound = errors.New("run not found")
	// ErrForbidden means the requesting principal does not own the run.
	ErrForbidden = errors.New("not the run owner")
	// ErrAlreadyExists means a live run with the same id belongs to someone else.
	ErrAlreadyExists = errors.New("run already exists")
	// ErrRunTerminal means a publish was attempted after run-complete/run-error.
	ErrRunTerminal = errors.New("run already terminal")
	// ErrPayloadTooLarge means a published payload exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("event payload too large")
	// ErrStoreUnavailable wraps store failures surfaced to subscribers as a
	// synthetic terminal error event.
	ErrStoreUnavailable = errors.New("event store unavailable")
)
