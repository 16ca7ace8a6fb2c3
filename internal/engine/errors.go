package engine

import "errors"

var (
	// ErrQueueFull reports a command dropped because its queue was at capacity.
	ErrQueueFull = errors.New("engine: queue full")
	// ErrNotRestored reports queue access before the persisted queues were loaded.
	ErrNotRestored = errors.New("engine: state not restored")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("engine: closed")
)
