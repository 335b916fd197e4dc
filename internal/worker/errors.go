package worker

import "errors"

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	// ErrStopTimeout means the grace period ran out and queued work was abandoned.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
