// Package dispatch fans a domain event out to its subscribed endpoints:
// one pending delivery row plus one queue task per matching endpoint.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/hookrelay/internal/catalog"
	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/event"
	"github.com/courseloop/hookrelay/internal/filter"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/metrics"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/store"
	"github.com/courseloop/hookrelay/internal/tracing"
)

// ErrUnknownEventType rejects dispatches of types outside the event catalog.
var ErrUnknownEventType = errors.New("unknown event type")

// Options tunes dispatcher policy.
type Options struct {
	// RequireVerified skips endpoints that have not completed the
	// verification handshake.
	RequireVerified bool
	// DeliveryTTL bounds each created delivery's retry window. Zero means
	// delivery.DefaultTTL.
	DeliveryTTL time.Duration
}

// Dispatcher matches events against the endpoint registry and creates the
// resulting deliveries.
type Dispatcher struct {
	endpoints  store.EndpointStore
	deliveries store.DeliveryStore
	queue      queue.Queue
	opts       Options
	log        *logging.Logger
}

// New builds a dispatcher over the stores and work queue.
func New(endpoints store.EndpointStore, deliveries store.DeliveryStore, q queue.Queue, opts Options, log *logging.Logger) *Dispatcher {
	return &Dispatcher{endpoints: endpoints, deliveries: deliveries, queue: q, opts: opts, log: log}
}

// Result summarizes one dispatch: the event id and the deliveries fanned out.
type Result struct {
	EventID     string
	Fanout      int
	DeliveryIDs []string
}

// Dispatch fans env out to every active, subscribed, filter-matching endpoint
// in its tenant scope. Zero matches is a silent no-op, not an error. A failure
// against one endpoint never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, env event.Envelope) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.Dispatch",
		attribute.String("tenant_id", env.TenantID),
		attribute.String("event_type", env.Type),
	)
	defer span.End()

	if !catalog.Known(env.Type) {
		err := fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	if env.ID == "" || env.OccurredAt.IsZero() {
		stamped := event.New(env.Type, env.Data)
		if env.ID == "" {
			env.ID = stamped.ID
		}
		if env.OccurredAt.IsZero() {
			env.OccurredAt = stamped.OccurredAt
		}
	}
	span.SetAttributes(attribute.String("event_id", env.ID))

	payload, err := json.Marshal(env)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	tracing.AddSpanEvent(ctx, "store.find_subscribed")
	subscribed, err := d.endpoints.FindSubscribed(ctx, env.Type, env.TenantID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("find subscribed: %w", err)
	}
	span.SetAttributes(attribute.Int("subscribers_count", len(subscribed)))

	res := &Result{EventID: env.ID}
	for _, ep := range subscribed {
		if d.opts.RequireVerified && !ep.Verified {
			continue
		}
		if !filter.Match(ep.Config.Filters, env.Data) {
			continue
		}
		del, err := d.create(ctx, ep, env, payload)
		if err != nil {
			// Keep fanning out; the skipped endpoint just misses this event.
			tracing.SetSpanError(ctx, err)
			d.log.WithContext(ctx).WithError(err).WithEvent(env.ID).
				WithEndpoint(ep.ID).Error("dispatch to endpoint failed")
			continue
		}
		res.Fanout++
		res.DeliveryIDs = append(res.DeliveryIDs, del.ID)
	}

	metrics.RecordEventDispatched(env.TenantID)
	span.SetAttributes(attribute.Int("fanout_count", res.Fanout))
	d.log.WithContext(ctx).WithEvent(env.ID).WithTenant(env.TenantID).
		WithField("event_type", env.Type).
		WithField("fanout", res.Fanout).
		Info("event dispatched")
	return res, nil
}

// DispatchTo targets a single endpoint directly, bypassing subscription and
// filter matching. Used for test events against one endpoint.
func (d *Dispatcher) DispatchTo(ctx context.Context, ep *endpoint.Endpoint, env event.Envelope) (*delivery.Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.DispatchTo",
		attribute.String("endpoint_id", ep.ID),
		attribute.String("event_type", env.Type),
	)
	defer span.End()

	if env.ID == "" {
		env.ID = event.New(env.Type, env.Data).ID
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return d.create(ctx, ep, env, payload)
}

// create persists the pending delivery, then enqueues its task. The row is
// written first so a worker never dequeues a task with no backing delivery.
func (d *Dispatcher) create(ctx context.Context, ep *endpoint.Endpoint, env event.Envelope, payload json.RawMessage) (*delivery.Delivery, error) {
	del := delivery.New(ep, env, payload, delivery.PriorityNormal, d.opts.DeliveryTTL)
	if err := d.deliveries.Create(ctx, del); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	task := delivery.NewTask(del, time.Now().UTC().Format(time.RFC3339), tracing.PropagateTrace(ctx))
	if err := d.queue.Publish(ctx, task, 0); err != nil {
		return nil, fmt.Errorf("queue publish: %w", err)
	}
	tracing.AddSpanEvent(ctx, "queue.published_task",
		attribute.String("delivery_id", del.ID))
	return del, nil
}
