package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/metrics"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/tracing"
)

// DeliveryStore is the slice of the store the scheduler needs.
type DeliveryStore interface {
	MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ReclaimStale(ctx context.Context, olderThan time.Time) ([]*delivery.Delivery, error)
}

// Scheduler re-enqueues failed deliveries with backoff, expires stale ones,
// and reclaims deliveries stuck in processing after a crash. It never blocks
// a worker: retries go back through the queue with a delay.
type Scheduler struct {
	deliveries DeliveryStore
	queue      queue.Queue
	jitterPct  float64
	log        *logging.Logger
}

// NewScheduler builds a scheduler. jitterPct spreads retry delays; 0 keeps
// them deterministic.
func NewScheduler(deliveries DeliveryStore, q queue.Queue, jitterPct float64, log *logging.Logger) *Scheduler {
	return &Scheduler{deliveries: deliveries, queue: q, jitterPct: jitterPct, log: log}
}

// HandleFailure decides what happens to a delivery whose attempt-th attempt
// just failed. If eligible it transitions the delivery to retrying and
// re-enqueues it after the computed backoff; otherwise the delivery stays in
// terminal failed. Returns whether a retry was scheduled.
func (s *Scheduler) HandleFailure(ctx context.Context, d *delivery.Delivery, attempt int, epStatus endpoint.Status, reason string) (bool, error) {
	p := FromConfig(d.Config)
	p.JitterPct = s.jitterPct

	now := time.Now().UTC()
	if !p.ShouldRetry(attempt, d.ExpiresAt, epStatus, now) {
		s.log.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(d.EndpointID).WithFields(map[string]any{
			"attempt": attempt,
			"reason":  reason,
		}).Info("retry budget exhausted, delivery stays failed")
		return false, nil
	}

	delay := p.Delay(attempt)
	nextRetryAt := now.Add(delay)
	if err := s.deliveries.MarkRetrying(ctx, d.ID, nextRetryAt); err != nil {
		return false, fmt.Errorf("mark retrying: %w", err)
	}

	task := delivery.NewTask(d, now.Format(time.RFC3339), tracing.PropagateTrace(ctx))
	task.Attempt = attempt
	if err := s.queue.Publish(ctx, task, p.WithJitter(delay)); err != nil {
		return false, fmt.Errorf("requeue delivery: %w", err)
	}

	metrics.RecordRetry(reason)
	s.log.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(d.EndpointID).WithFields(map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Info("delivery scheduled for retry")
	return true, nil
}

// SweepExpired marks every non-terminal delivery past its TTL as expired.
// Run periodically; it is what keeps the queue from growing without bound.
func (s *Scheduler) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.deliveries.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire overdue: %w", err)
	}
	if n > 0 {
		metrics.RecordExpired(n)
		s.log.WithContext(ctx).WithField("count", n).Info("expired overdue deliveries")
	}
	return n, nil
}

// ReclaimStale rescues deliveries stuck in processing longer than staleAfter,
// typically after a worker crash, by flipping them to retrying and putting
// them back on the queue.
func (s *Scheduler) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := s.deliveries.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	requeued := 0
	for _, d := range stale {
		task := delivery.NewTask(d, time.Now().UTC().Format(time.RFC3339), nil)
		if err := s.queue.Publish(ctx, task, 0); err != nil {
			s.log.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("requeue reclaimed delivery failed")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.log.WithContext(ctx).WithField("count", requeued).Warn("reclaimed stale processing deliveries")
	}
	return requeued, nil
}
