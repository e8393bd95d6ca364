package assembly

import (
	"fmt"
	"time"
)

// ChunkTimeoutError reports chunks that did not finish in time. Completed and
// Pending are chunk indices in ascending order.
type ChunkTimeoutError struct {
	Completed []int
	Pending   []int
	Err       error
}

func (e *ChunkTimeoutError) Error() string {
	msg := fmt.Sprintf("chunks timed out: completed %v, pending %v", e.Completed, e.Pending)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChunkTimeoutError) Unwrap() error {
	return e.Err
}

// ChunkFailedError reports a chunk whose worker gave up.
type ChunkFailedError struct {
	Index  int
	Reason string
}

func (e *ChunkFailedError) Error() string {
	return fmt.Sprintf("chunk %d failed: %s", e.Index, e.Reason)
}

// IntegrityError reports reassembled audio whose duration does not match the
// source within tolerance.
type IntegrityError struct {
	Expected  time.Duration
	Actual    time.Duration
	Tolerance time.Duration
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("reassembled duration %s differs from source %s by more than %s", e.Actual, e.Expected, e.Tolerance)
}

// DispatchError reports a chunk that could not be handed to the queue.
type DispatchError struct {
	Index int
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch chunk %d: %v", e.Index, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
