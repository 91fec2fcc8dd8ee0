package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes formatted entries to stderr for warnings and errors and
// stdout for everything else.
type ConsoleOutput struct {
	mu sync.Mutex
	// Stdout/Stderr may be overridden in tests; nil means the os defaults.
	Stdout io.Writer
	Stderr io.Writer
}

// NewConsoleOutput returns a ConsoleOutput with the os default writers.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{} }

// Write implements Output.
func (o *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.Stdout
	if entry.Level >= WarnLevel {
		w = o.Stderr
		if w == nil {
			w = os.Stderr
		}
	}
	if w == nil {
		w = os.Stdout
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output. Console writers are not owned by the output.
func (o *ConsoleOutput) Close() error { return nil }

// WriterOutput writes formatted entries to an arbitrary io.Writer.
type WriterOutput struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriterOutput returns an Output writing to w.
func NewWriterOutput(w io.Writer) *WriterOutput { return &WriterOutput{W: w} }

// Write implements Output.
func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.W.Write(formatted)
	return err
}

// Close implements Output.
func (o *WriterOutput) Close() error { return nil }
