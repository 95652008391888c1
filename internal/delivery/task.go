package delivery

// Task is the queue message for one delivery. The Delivery row is the source
// of truth; the task is a pointer to it plus routing context so workers can
// log and trace before hitting the store.
type Task struct {
	DeliveryID   string            `json:"delivery_id"`
	EventID      string            `json:"event_id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	EndpointID   string            `json:"endpoint_id"`
	EndpointURL  string            `json:"endpoint_url"`
	EventType    string            `json:"event_type"`
	Attempt      int               `json:"attempt"`
	PublishedAt  string            `json:"published_at"` // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// NewTask builds the queue message for d.
func NewTask(d *Delivery, publishedAt string, traceHeaders map[string]string) Task {
	return Task{
		DeliveryID:   d.ID,
		EventID:      d.EventID,
		TenantID:     d.TenantID,
		EndpointID:   d.EndpointID,
		EndpointURL:  d.URL,
		EventType:    d.EventType,
		Attempt:      d.Attempt,
		PublishedAt:  publishedAt,
		TraceHeaders: traceHeaders,
	}
}
