package taskqueue

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull         = errors.New("taskqueue: queue full")
	ErrNoProcessor       = errors.New("taskqueue: no processor registered")
	ErrProcessingTimeout = errors.New("taskqueue: processing timeout")
	ErrProcessor         = errors.New("taskqueue: processor failed")
	ErrClosed            = errors.New("taskqueue: closed")
)

// QueueFullError is returned synchronously by Enqueue when the lane is at
// capacity. Nothing was queued.
type QueueFullError struct {
	Key   string
	Limit int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("taskqueue: queue %q is full (max %d)", e.Key, e.Limit)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// NoProcessorError settles an item whose lane has no processor bound.
type NoProcessorError struct {
	Key    string
	ItemID string
}

func (e *NoProcessorError) Error() string {
	return fmt.Sprintf("taskqueue: queue %q has no processor registered (item %s)", e.Key, e.ItemID)
}

func (e *NoProcessorError) Is(target error) bool { return target == ErrNoProcessor }

// TimeoutError settles an item whose processor did not return within the
// lane's Timeout.
type TimeoutError struct {
	Key     string
	ItemID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("taskqueue: item %s on queue %q timed out after %s", e.ItemID, e.Key, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrProcessingTimeout
}

// ProcessorError wraps the error returned (or panic raised) by a processor.
type ProcessorError struct {
	Key    string
	ItemID string
	Err    error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("taskqueue: item %s on queue %q failed: %v", e.ItemID, e.Key, e.Err)
}

func (e *ProcessorError) Is(target error) bool { return target == ErrProcessor }

func (e *ProcessorError) Unwrap() error { return e.Err }
