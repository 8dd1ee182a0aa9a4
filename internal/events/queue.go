package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when a command is pushed to a full queue before
// the flush.
var ErrQueueFull = errors.New("events: command queue full")

// Command is a deferred SDK call queued before initialization completes.
type Command func(ctx context.Context)

// CommandQueue holds commands issued before the SDK is ready and replays
// them in FIFO order exactly once. After the flush, pushed commands run
// immediately on the pushing goroutine.
type CommandQueue struct {
	mu      sync.Mutex
	pending []Command
	limit   int
	flushed bool
}

// NewCommandQueue returns a queue bounded at limit commands. limit <= 0
// falls back to a small default.
func NewCommandQueue(limit int) *CommandQueue {
	if limit <= 0 {
		limit = 64
	}
	return &CommandQueue{limit: limit}
}

// Push defers cmd until Flush, or runs it immediately if the queue was
// already flushed.
func (q *CommandQueue) Push(ctx context.Context, cmd Command) error {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		cmd(ctx)
		return nil
	}
	if len(q.pending) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
	return nil
}

// Flush replays the queued commands in order. Calling Flush twice is a
// no-op; the queued commands run exactly once.
func (q *CommandQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		return
	}
	pending := q.pending
	q.pending = nil
	q.flushed = true
	q.mu.Unlock()

	for _, cmd := range pending {
		cmd(ctx)
	}
}

// Len reports the number of commands still waiting for the flush.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
