package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/event"
	"github.com/courseloop/hookrelay/internal/filter"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/store/memory"
)

func testDispatcher(opts Options) (*Dispatcher, *memory.EndpointStore, *memory.DeliveryStore, *queue.Memory) {
	endpoints := memory.NewEndpointStore()
	deliveries := memory.NewDeliveryStore()
	q := queue.NewMemory()
	log := logging.NewWithWriter("dispatch-test", io.Discard)
	return New(endpoints, deliveries, q, opts, log), endpoints, deliveries, q
}

func registered(tenant string, types ...string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Name:       "test",
		URL:        "https://example.com/hooks",
		Status:     endpoint.StatusActive,
		TenantID:   tenant,
		EventTypes: types,
		Config:     endpoint.DefaultConfig(),
		Health:     endpoint.HealthMetrics{HealthScore: 100, Healthy: true},
	}
}

func TestDispatchFanout(t *testing.T) {
	ctx := context.Background()
	d, endpoints, deliveries, q := testDispatcher(Options{})

	matching := registered("t-1", "course.published")
	matching.Config.Filters = []filter.Rule{{Field: "category", Op: filter.OpEquals, Value: "engineering"}}

	filtered := registered("t-1", "course.published")
	filtered.Config.Filters = []filter.Rule{{Field: "category", Op: filter.OpEquals, Value: "design"}}

	unsubscribed := registered("t-1", "payment.succeeded")

	for _, ep := range []*endpoint.Endpoint{matching, filtered, unsubscribed} {
		if err := endpoints.Create(ctx, ep); err != nil {
			t.Fatal(err)
		}
	}

	env := event.New("course.published", map[string]any{"id": "c1", "category": "engineering"})
	env.TenantID = "t-1"

	res, err := d.Dispatch(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fanout != 1 {
		t.Fatalf("fanout = %d, want 1", res.Fanout)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}

	pub, _ := q.Pop()
	if pub.Task.EndpointID != matching.ID {
		t.Errorf("task endpoint = %s, want %s", pub.Task.EndpointID, matching.ID)
	}
	if pub.Delay != 0 {
		t.Errorf("first attempt published with delay %s", pub.Delay)
	}

	del, err := deliveries.Get(ctx, pub.Task.DeliveryID)
	if err != nil {
		t.Fatal(err)
	}
	if del.Status != delivery.StatusPending {
		t.Errorf("status = %s, want pending", del.Status)
	}
	if del.URL != matching.URL {
		t.Errorf("delivery url = %s, want endpoint snapshot %s", del.URL, matching.URL)
	}

	var echoed event.Envelope
	if err := json.Unmarshal(del.Payload, &echoed); err != nil {
		t.Fatal(err)
	}
	if echoed.ID != env.ID || echoed.Data["id"] != "c1" {
		t.Errorf("payload snapshot mismatch: %+v", echoed)
	}
}

func TestDispatchUnknownEventType(t *testing.T) {
	d, _, _, _ := testDispatcher(Options{})
	_, err := d.Dispatch(context.Background(), event.New("course.exploded", nil))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("err = %v, want ErrUnknownEventType", err)
	}
}

func TestDispatchZeroMatches(t *testing.T) {
	d, _, _, q := testDispatcher(Options{})
	res, err := d.Dispatch(context.Background(), event.New("course.published", map[string]any{"id": "c1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Fanout != 0 || q.Len() != 0 {
		t.Fatalf("fanout = %d, queue len = %d, want zero both", res.Fanout, q.Len())
	}
}

func TestDispatchTenantScope(t *testing.T) {
	ctx := context.Background()
	d, endpoints, _, q := testDispatcher(Options{})

	tenant := registered("t-1", "course.published")
	other := registered("t-2", "course.published")
	global := registered("", "*")
	for _, ep := range []*endpoint.Endpoint{tenant, other, global} {
		if err := endpoints.Create(ctx, ep); err != nil {
			t.Fatal(err)
		}
	}

	env := event.New("course.published", map[string]any{"id": "c1"})
	env.TenantID = "t-1"
	res, err := d.Dispatch(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fanout != 2 {
		t.Fatalf("tenant event fanout = %d, want tenant + system-wide = 2", res.Fanout)
	}
	for q.Len() > 0 {
		pub, _ := q.Pop()
		if pub.Task.EndpointID == other.ID {
			t.Error("event leaked to another tenant's endpoint")
		}
	}

	res, err = d.Dispatch(ctx, event.New("course.published", map[string]any{"id": "c2"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Fanout != 1 {
		t.Fatalf("tenantless event fanout = %d, want system-wide only = 1", res.Fanout)
	}
}

func TestDispatchRequireVerified(t *testing.T) {
	ctx := context.Background()
	d, endpoints, _, q := testDispatcher(Options{RequireVerified: true})

	unverified := registered("t-1", "course.published")
	verified := registered("t-1", "course.published")
	verified.Verified = true
	for _, ep := range []*endpoint.Endpoint{unverified, verified} {
		if err := endpoints.Create(ctx, ep); err != nil {
			t.Fatal(err)
		}
	}

	env := event.New("course.published", map[string]any{"id": "c1"})
	env.TenantID = "t-1"
	res, err := d.Dispatch(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fanout != 1 {
		t.Fatalf("fanout = %d, want verified endpoint only", res.Fanout)
	}
	pub, _ := q.Pop()
	if pub.Task.EndpointID != verified.ID {
		t.Errorf("delivery went to unverified endpoint")
	}
}

func TestDispatchTo(t *testing.T) {
	ctx := context.Background()
	d, endpoints, deliveries, q := testDispatcher(Options{})

	// Filters and subscriptions do not apply to direct deliveries.
	ep := registered("t-1", "payment.succeeded")
	ep.Config.Filters = []filter.Rule{{Field: "nope", Op: filter.OpEquals, Value: "x"}}
	if err := endpoints.Create(ctx, ep); err != nil {
		t.Fatal(err)
	}

	del, err := d.DispatchTo(ctx, ep, event.New("endpoint.test", map[string]any{"test": true}))
	if err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	got, err := deliveries.Get(ctx, del.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventType != "endpoint.test" {
		t.Errorf("event type = %s", got.EventType)
	}
}
