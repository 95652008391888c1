package delivery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/event"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusFailed, false},
		{StatusRetrying, false},
		{StatusSuccess, true},
		{StatusExpired, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSnapshotsEndpointConfig(t *testing.T) {
	cfg := endpoint.DefaultConfig()
	cfg.Secret = "s3cr3t"
	cfg.MaxAttempts = 5
	ep := &endpoint.Endpoint{
		ID:     "ep-1",
		URL:    "https://example.com/hooks",
		Config: cfg,
	}
	env := event.New("course.published", map[string]any{"id": "c1"})
	env.TenantID = "t-1"
	payload, _ := json.Marshal(env.Data)

	d := New(ep, env, payload, "", 0)

	if d.Status != StatusPending {
		t.Errorf("Status = %s, want pending", d.Status)
	}
	if d.Priority != PriorityNormal {
		t.Errorf("Priority = %s, want normal default", d.Priority)
	}
	if d.Config.Secret != "s3cr3t" || d.Config.MaxAttempts != 5 {
		t.Errorf("config not snapshotted: %+v", d.Config)
	}
	if d.URL != ep.URL {
		t.Errorf("URL = %q, want %q", d.URL, ep.URL)
	}
	if d.TenantID != "t-1" || d.EventID != env.ID || d.EventType != "course.published" {
		t.Errorf("event context not carried: %+v", d)
	}

	// Later endpoint edits must not leak into the snapshot.
	ep.Config.Secret = "rotated"
	if d.Config.Secret != "s3cr3t" {
		t.Error("endpoint edit mutated delivery snapshot")
	}

	wantExpiry := d.ScheduledAt.Add(DefaultTTL)
	if !d.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %s, want scheduled+24h", d.ExpiresAt)
	}
	if d.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", d.Attempt)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now().UTC()
	d := &Delivery{ExpiresAt: now.Add(-time.Second)}
	if !d.Expired(now) {
		t.Error("delivery past its TTL should be expired")
	}
	d.ExpiresAt = now.Add(time.Hour)
	if d.Expired(now) {
		t.Error("delivery within TTL should not be expired")
	}
}

func TestNewTask(t *testing.T) {
	d := &Delivery{
		ID:         "d-1",
		EventID:    "e-1",
		TenantID:   "t-1",
		EndpointID: "ep-1",
		URL:        "https://example.com/hooks",
		EventType:  "payment.succeeded",
		Attempt:    2,
	}
	task := NewTask(d, "2026-08-29T00:00:00Z", map[string]string{"traceparent": "00-x"})
	if task.DeliveryID != "d-1" || task.EndpointURL != d.URL || task.Attempt != 2 {
		t.Errorf("NewTask() = %+v", task)
	}
	if task.TraceHeaders["traceparent"] == "" {
		t.Error("trace headers dropped")
	}
}
