package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/event"
)

// Status is the lifecycle state of one delivery.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is immutable once reached. A failed
// delivery is not terminal until its retry budget or TTL runs out.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Priority orders deliveries in the work queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// DefaultTTL bounds how long a delivery may be retried before it expires.
const DefaultTTL = 24 * time.Hour

// Request is the captured outgoing HTTP request of one attempt.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout time.Duration     `json:"timeout"`
}

// Response is the captured HTTP response of one attempt.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Latency    time.Duration     `json:"latency"`
}

// Delivery is one attempted (and possibly retried) transmission of a single
// event to a single endpoint. URL and Config are snapshots of the endpoint
// taken at dispatch time; later endpoint edits do not affect them.
type Delivery struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	TenantID   string `json:"tenant_id,omitempty"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`

	Payload  json.RawMessage `json:"payload"`
	Priority Priority        `json:"priority"`
	Status   Status          `json:"status"`
	Attempt  int             `json:"attempt"` // attempts performed so far

	URL    string                  `json:"url"`
	Config endpoint.DeliveryConfig `json:"config"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	LastError string    `json:"last_error,omitempty"`
	Request   *Request  `json:"request,omitempty"`
	Response  *Response `json:"response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a pending delivery for env targeted at ep, snapshotting the
// endpoint's delivery config and the serialized payload.
func New(ep *endpoint.Endpoint, env event.Envelope, payload json.RawMessage, priority Priority, ttl time.Duration) *Delivery {
	if priority == "" {
		priority = PriorityNormal
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	return &Delivery{
		ID:          uuid.NewString(),
		EndpointID:  ep.ID,
		TenantID:    env.TenantID,
		EventID:     env.ID,
		EventType:   env.Type,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		URL:         ep.URL,
		Config:      ep.Config,
		ScheduledAt: now,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Expired reports whether the delivery outlived its TTL at the given instant.
func (d *Delivery) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Stats aggregates delivery outcomes, either per endpoint or system-wide.
type Stats struct {
	Total       int64         `json:"total"`
	Pending     int64         `json:"pending"`
	Processing  int64         `json:"processing"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	Retrying    int64         `json:"retrying"`
	Expired     int64         `json:"expired"`
	Cancelled   int64         `json:"cancelled"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
}
