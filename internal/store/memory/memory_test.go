package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/store"
)

func activeEndpoint(tenant string, types ...string) *endpoint.Endpoint {
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

func pendingDelivery(endpointID string) *delivery.Delivery {
	now := time.Now().UTC()
	return &delivery.Delivery{
		EndpointID:  endpointID,
		EventID:     "e-1",
		EventType:   "course.published",
		Payload:     []byte(`{"id":"c1"}`),
		Priority:    delivery.PriorityNormal,
		Status:      delivery.StatusPending,
		URL:         "https://example.com/hooks",
		Config:      endpoint.DefaultConfig(),
		ScheduledAt: now,
		ExpiresAt:   now.Add(delivery.DefaultTTL),
	}
}

func TestFindSubscribedScoping(t *testing.T) {
	ctx := context.Background()
	s := NewEndpointStore()

	tenant := activeEndpoint("t-1", "course.published")
	other := activeEndpoint("t-2", "course.published")
	global := activeEndpoint("", "*")
	inactive := activeEndpoint("t-1", "course.published")
	inactive.Status = endpoint.StatusSuspended
	unsubscribed := activeEndpoint("t-1", "payment.succeeded")

	for _, ep := range []*endpoint.Endpoint{tenant, other, global, inactive, unsubscribed} {
		if err := s.Create(ctx, ep); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindSubscribed(ctx, "course.published", "t-1")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, ep := range got {
		ids[ep.ID] = true
	}
	if len(got) != 2 || !ids[tenant.ID] || !ids[global.ID] {
		t.Errorf("FindSubscribed = %v, want tenant + system-wide endpoints", ids)
	}

	// Tenantless event reaches only system-wide endpoints.
	got, err = s.FindSubscribed(ctx, "course.published", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != global.ID {
		t.Errorf("tenantless FindSubscribed returned %d endpoints", len(got))
	}
}

func TestClaimCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()
	d := pendingDelivery("ep-1")
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.Claim(ctx, d.ID)
	if err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if claimed.Status != delivery.StatusProcessing {
		t.Errorf("claimed status = %s, want processing", claimed.Status)
	}

	// Second claim loses the race.
	if _, err := s.Claim(ctx, d.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second Claim() error = %v, want ErrConflict", err)
	}
}

func TestFinishGuardsAgainstStaleOutcome(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()
	d := pendingDelivery("ep-1")
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	// The endpoint gets deleted mid-flight; its deliveries are cancelled.
	if _, err := s.CancelForEndpoint(ctx, "ep-1"); err != nil {
		t.Fatal(err)
	}
	// The in-flight worker's outcome must be dropped.
	err := s.MarkSuccess(ctx, d.ID, nil, &delivery.Response{StatusCode: 200})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("MarkSuccess() after cancel = %v, want ErrConflict", err)
	}
	got, _ := s.Get(ctx, d.ID)
	if got.Status != delivery.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestMarkFailedIncrementsAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()
	d := pendingDelivery("ep-1")
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, d.ID, nil, &delivery.Response{StatusCode: 500}, "http 500"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, d.ID)
	if got.Attempt != 1 || got.Status != delivery.StatusFailed || got.LastError != "http 500" {
		t.Errorf("after failure: attempt=%d status=%s lastError=%q", got.Attempt, got.Status, got.LastError)
	}

	// failed → retrying → processing loop.
	if err := s.MarkRetrying(ctx, d.ID, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, d.ID); err != nil {
		t.Fatalf("Claim() of retrying delivery error = %v", err)
	}
}

func TestMarkRetryingRequiresFailed(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()
	d := pendingDelivery("ep-1")
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	err := s.MarkRetrying(ctx, d.ID, time.Now())
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("MarkRetrying() on pending = %v, want ErrConflict", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()

	overdue := pendingDelivery("ep-1")
	overdue.ExpiresAt = time.Now().Add(-time.Second)
	fresh := pendingDelivery("ep-1")
	done := pendingDelivery("ep-1")
	done.ExpiresAt = time.Now().Add(-time.Second)

	for _, d := range []*delivery.Delivery{overdue, fresh, done} {
		if err := s.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	// A terminal delivery past its TTL stays terminal.
	if _, err := s.Claim(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSuccess(ctx, done.ID, nil, &delivery.Response{StatusCode: 200}); err != nil {
		t.Fatal(err)
	}

	n, err := s.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ExpireOverdue() = %d, want 1", n)
	}
	got, _ := s.Get(ctx, overdue.ID)
	if got.Status != delivery.StatusExpired {
		t.Errorf("overdue status = %s, want expired", got.Status)
	}
	got, _ = s.Get(ctx, done.ID)
	if got.Status != delivery.StatusSuccess {
		t.Errorf("terminal delivery mutated by sweep: %s", got.Status)
	}
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()
	d := pendingDelivery("ep-1")
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, d.ID); err != nil {
		t.Fatal(err)
	}

	// Nothing stale yet.
	got, err := s.ReclaimStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("ReclaimStale() reclaimed a fresh processing delivery")
	}

	// Pretend the worker died an hour ago.
	got, err = s.ReclaimStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != delivery.StatusRetrying {
		t.Errorf("ReclaimStale() = %v", got)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := NewDeliveryStore()

	ok := pendingDelivery("ep-1")
	bad := pendingDelivery("ep-1")
	other := pendingDelivery("ep-2")
	for _, d := range []*delivery.Delivery{ok, bad, other} {
		if err := s.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Claim(ctx, ok.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSuccess(ctx, ok.ID, nil, &delivery.Response{StatusCode: 200, Latency: 100 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, bad.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, bad.ID, nil, &delivery.Response{StatusCode: 500, Latency: 300 * time.Millisecond}, "http 500"); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, "ep-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.Succeeded != 1 || st.Failed != 1 {
		t.Errorf("Stats(ep-1) = %+v", st)
	}
	if st.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", st.SuccessRate)
	}
	if st.AvgLatency != 200*time.Millisecond {
		t.Errorf("AvgLatency = %s, want 200ms", st.AvgLatency)
	}

	sys, err := s.Stats(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if sys.Total != 3 || sys.Pending != 1 {
		t.Errorf("system Stats = %+v", sys)
	}
}

func TestEndpointCopySemantics(t *testing.T) {
	ctx := context.Background()
	s := NewEndpointStore()
	ep := activeEndpoint("t-1", "course.published")
	if err := s.Create(ctx, ep); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.EventTypes[0] = "mutated"
	got.Config.Secret = "mutated"

	again, _ := s.Get(ctx, ep.ID)
	if again.EventTypes[0] == "mutated" || again.Config.Secret == "mutated" {
		t.Error("store handed out aliased endpoint state")
	}
}

func TestRecordOutcomeNotFound(t *testing.T) {
	s := NewEndpointStore()
	_, err := s.RecordOutcome(context.Background(), "missing", true, time.Millisecond, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("RecordOutcome(missing) = %v, want ErrNotFound", err)
	}
}
