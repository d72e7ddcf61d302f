package pipeline

import "sync/atomic"

// Abort is the one-way stop signal shared by producer and consumer. It flips
// from false to true exactly once per run and never resets. The consumer is
// the canonical writer on fatal errors; the CLI may also set it on signals.
type Abort struct {
	flag atomic.Bool
}

// Set flips the signal. Setting an already-set signal is a no-op.
func (a *Abort) Set() { a.flag.Store(true) }

// IsSet reports whether the run has been aborted.
func (a *Abort) IsSet() bool { return a.flag.Load() }
