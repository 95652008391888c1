package queue

import (
	"context"
	"sync"
	"time"

	"github.com/courseloop/hookrelay/internal/delivery"
)

// Published is one enqueued task together with its requested delay.
type Published struct {
	Task  delivery.Task
	Delay time.Duration
}

// Memory is an in-process queue used by tests and the local demo loop. It
// records publishes in order; consumers drain them explicitly.
type Memory struct {
	mu    sync.Mutex
	items []Published
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Publish(_ context.Context, task delivery.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, Published{Task: task, Delay: delay})
	return nil
}

func (q *Memory) Close() error { return nil }

// Pop removes and returns the oldest publish, if any.
func (q *Memory) Pop() (Published, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Published{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Len returns the number of undrained publishes.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
