// Package queue abstracts the delivery work queue: the dispatcher and retry
// scheduler only enqueue, workers consume. The retry policy stays independent
// of the queue technology by expressing delays as deferred publishes.
package queue

import (
	"context"
	"time"

	"github.com/courseloop/hookrelay/internal/delivery"
)

// Queue enqueues delivery tasks. A zero delay publishes immediately; a
// positive delay defers consumption by at least that long.
type Queue interface {
	Publish(ctx context.Context, task delivery.Task, delay time.Duration) error
	Close() error
}
