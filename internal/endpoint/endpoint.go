package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/courseloop/hookrelay/internal/catalog"
	"github.com/courseloop/hookrelay/internal/filter"
	"github.com/courseloop/hookrelay/internal/signature"
)

// Status is the lifecycle state of a registered endpoint.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusDisabled  Status = "disabled"  // operator-disabled
	StatusSuspended Status = "suspended" // circuit breaker tripped
)

// HealthyThreshold is the minimum health score for an active endpoint to be
// considered healthy.
const HealthyThreshold = 70.0

var (
	ErrInvalidURL     = errors.New("endpoint: invalid url")
	ErrEmptyEventSet  = errors.New("endpoint: event type set is empty")
	ErrUnknownEvent   = errors.New("endpoint: event type not in catalog")
	ErrInvalidFilter  = errors.New("endpoint: invalid filter rule")
	ErrInvalidConfig  = errors.New("endpoint: invalid delivery config")
)

// DeliveryConfig is the per-endpoint delivery behaviour. A Delivery snapshots
// it at dispatch time, so endpoint edits never change in-flight deliveries.
type DeliveryConfig struct {
	Method             string              `json:"method"`
	Timeout            time.Duration       `json:"timeout"`
	Secret             string              `json:"secret"`
	SignatureAlgorithm signature.Algorithm `json:"signature_algorithm"`
	SignatureHeader    string              `json:"signature_header"`
	Headers            map[string]string   `json:"headers,omitempty"`
	MaxAttempts        int                 `json:"max_attempts"`
	RetryDelay         time.Duration       `json:"retry_delay"`
	ExponentialBackoff bool                `json:"exponential_backoff"`
	Filters            []filter.Rule       `json:"filters,omitempty"`
}

// DefaultConfig returns the delivery config applied when a registration does
// not override individual fields.
func DefaultConfig() DeliveryConfig {
	return DeliveryConfig{
		Method:             http.MethodPost,
		Timeout:            15 * time.Second,
		SignatureAlgorithm: signature.Default,
		SignatureHeader:    signature.DefaultHeader,
		MaxAttempts:        3,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
	}
}

// HealthMetrics is the rolling delivery health state for one endpoint.
// Updates are read-modify-write and must be serialized per endpoint by the
// store (row lock or single mutex).
type HealthMetrics struct {
	TotalDeliveries      int64         `json:"total_deliveries"`
	SuccessfulDeliveries int64         `json:"successful_deliveries"`
	FailedDeliveries     int64         `json:"failed_deliveries"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	AvgResponseTime      time.Duration `json:"avg_response_time"`
	HealthScore          float64       `json:"health_score"`
	Healthy              bool          `json:"healthy"`
	LastError            string        `json:"last_error,omitempty"`
}

// FailureRate returns the failure percentage over all recorded deliveries.
func (m HealthMetrics) FailureRate() float64 {
	if m.TotalDeliveries == 0 {
		return 0
	}
	return float64(m.FailedDeliveries) / float64(m.TotalDeliveries) * 100
}

// Endpoint is a registered external HTTP target subscribed to event types.
type Endpoint struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Status    Status `json:"status"`
	TenantID  string `json:"tenant_id,omitempty"` // empty = system-wide
	CreatedBy string `json:"created_by,omitempty"`

	EventTypes []string       `json:"event_types"`
	Config     DeliveryConfig `json:"config"`

	VerificationToken string     `json:"verification_token,omitempty"`
	Verified          bool       `json:"verified"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`

	Health HealthMetrics `json:"health"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the endpoint may receive new deliveries.
func (e *Endpoint) Active() bool {
	return e.Status == StatusActive
}

// SubscribedTo reports whether the endpoint's event set contains eventType or
// the wildcard catch-all.
func (e *Endpoint) SubscribedTo(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == eventType || t == catalog.Wildcard {
			return true
		}
	}
	return false
}

// Validate checks registration input: URL shape, event set, filters, config.
func Validate(rawURL string, eventTypes []string, cfg DeliveryConfig) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if len(eventTypes) == 0 {
		return ErrEmptyEventSet
	}
	for _, t := range eventTypes {
		if !catalog.ValidSubscription(t) {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, t)
		}
	}
	for _, r := range cfg.Filters {
		if !r.Valid() {
			return fmt.Errorf("%w: %+v", ErrInvalidFilter, r)
		}
	}
	if !cfg.SignatureAlgorithm.Valid() {
		return fmt.Errorf("%w: signature algorithm %q", ErrInvalidConfig, cfg.SignatureAlgorithm)
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrInvalidConfig, cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %s", ErrInvalidConfig, cfg.Timeout)
	}
	return nil
}
