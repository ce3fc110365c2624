package shardqueue

import (
	"errors"
	"fmt"
)

var (
	ErrExecutorClosed = errors.New("shardqueue: executor closed")
	ErrQueueFull      = errors.New("shardqueue: queue full")
	ErrJobPanic       = errors.New("shardqueue: job panicked")
)

// QueueFullError reports which shard rejected a submission.
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("shardqueue: shard %d full (%d/%d)", e.Shard, e.Length, e.Capacity)
}

// Is makes errors.Is(err, ErrQueueFull) true.
func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }
