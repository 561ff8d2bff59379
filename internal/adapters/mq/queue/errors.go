package queue

import "errors"

// Sentinel errors for enqueue failures.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)
