package event

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is a typed domain event handed to the dispatcher. The data map is
// the payload snapshot source; it is serialized once at dispatch time.
type Envelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	TenantID   string            `json:"tenant_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Data       map[string]any    `json:"data"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New builds an envelope for the given type and payload, stamping id and time.
func New(eventType string, data map[string]any) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}
