// Package registry owns endpoint subscription state: registration,
// lifecycle transitions, and subscriber lookup for the dispatcher.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/filter"
	"github.com/courseloop/hookrelay/internal/health"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/store"
)

// Registry validates and persists endpoints.
type Registry struct {
	endpoints store.EndpointStore
	log       *logging.Logger
}

// New builds a registry over the endpoint store.
func New(endpoints store.EndpointStore, log *logging.Logger) *Registry {
	return &Registry{endpoints: endpoints, log: log}
}

// RegisterInput is the registration request. Zero-valued config fields fall
// back to defaults; an empty secret gets a generated one.
type RegisterInput struct {
	Name       string
	URL        string
	TenantID   string
	CreatedBy  string
	EventTypes []string
	Config     *endpoint.DeliveryConfig
}

// Register creates an active, unverified endpoint with a full health score.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*endpoint.Endpoint, error) {
	cfg := endpoint.DefaultConfig()
	if in.Config != nil {
		cfg = mergeConfig(cfg, *in.Config)
	}
	if cfg.Secret == "" {
		secret, err := generateSecret(32)
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		cfg.Secret = secret
	}
	if err := endpoint.Validate(in.URL, in.EventTypes, cfg); err != nil {
		return nil, err
	}

	ep := &endpoint.Endpoint{
		ID:                uuid.NewString(),
		Name:              in.Name,
		URL:               in.URL,
		Status:            endpoint.StatusActive,
		TenantID:          in.TenantID,
		CreatedBy:         in.CreatedBy,
		EventTypes:        append([]string(nil), in.EventTypes...),
		Config:            cfg,
		VerificationToken: uuid.NewString(),
		Health: endpoint.HealthMetrics{
			HealthScore: 100,
			Healthy:     true,
		},
	}
	if err := r.endpoints.Create(ctx, ep); err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}
	r.log.WithContext(ctx).WithEndpoint(ep.ID).WithTenant(ep.TenantID).
		WithField("url", ep.URL).Info("endpoint registered")
	return ep, nil
}

// UpdateInput carries partial endpoint edits; nil fields stay unchanged.
// Edits never touch in-flight deliveries, which carry their own snapshot.
type UpdateInput struct {
	Name       *string
	URL        *string
	EventTypes []string
	Config     *endpoint.DeliveryConfig
}

// Update applies the partial edit after re-validating the result.
func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (*endpoint.Endpoint, error) {
	ep, err := r.endpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		ep.Name = *in.Name
	}
	if in.URL != nil {
		ep.URL = *in.URL
	}
	if in.EventTypes != nil {
		ep.EventTypes = append([]string(nil), in.EventTypes...)
	}
	if in.Config != nil {
		ep.Config = mergeConfig(ep.Config, *in.Config)
	}
	if err := endpoint.Validate(ep.URL, ep.EventTypes, ep.Config); err != nil {
		return nil, err
	}
	Recalculate(ep)
	if err := r.endpoints.Update(ctx, ep); err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	return ep, nil
}

// Get returns the endpoint by id.
func (r *Registry) Get(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	return r.endpoints.Get(ctx, id)
}

// List returns endpoints, optionally scoped to one tenant.
func (r *Registry) List(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	return r.endpoints.List(ctx, tenantID)
}

// Disable takes the endpoint out of dispatch and clears its failure streak.
func (r *Registry) Disable(ctx context.Context, id, reason string) error {
	if err := r.endpoints.SetStatus(ctx, id, endpoint.StatusDisabled, true); err != nil {
		return err
	}
	r.log.WithContext(ctx).WithEndpoint(id).WithField("reason", reason).Info("endpoint disabled")
	return nil
}

// Enable re-activates a disabled or suspended endpoint with a clean
// consecutive-failure counter.
func (r *Registry) Enable(ctx context.Context, id string) error {
	if err := r.endpoints.SetStatus(ctx, id, endpoint.StatusActive, true); err != nil {
		return err
	}
	r.log.WithContext(ctx).WithEndpoint(id).Info("endpoint enabled")
	return nil
}

// FindSubscribed returns the active endpoints a dispatched event fans out to.
func (r *Registry) FindSubscribed(ctx context.Context, eventType, tenantID string) ([]*endpoint.Endpoint, error) {
	return r.endpoints.FindSubscribed(ctx, eventType, tenantID)
}

// mergeConfig overlays the non-zero fields of override onto base.
func mergeConfig(base, override endpoint.DeliveryConfig) endpoint.DeliveryConfig {
	out := base
	if override.Method != "" {
		out.Method = override.Method
	}
	if override.Timeout > 0 {
		out.Timeout = override.Timeout
	}
	if override.Secret != "" {
		out.Secret = override.Secret
	}
	if override.SignatureAlgorithm != "" {
		out.SignatureAlgorithm = override.SignatureAlgorithm
	}
	if override.SignatureHeader != "" {
		out.SignatureHeader = override.SignatureHeader
	}
	if override.Headers != nil {
		out.Headers = override.Headers
	}
	if override.MaxAttempts > 0 {
		out.MaxAttempts = override.MaxAttempts
	}
	if override.RetryDelay > 0 {
		out.RetryDelay = override.RetryDelay
	}
	if override.Filters != nil {
		out.Filters = append([]filter.Rule(nil), override.Filters...)
	}
	// The backoff flag has no empty value; an explicit config always decides it.
	out.ExponentialBackoff = override.ExponentialBackoff
	return out
}

// generateSecret returns n random bytes base64-encoded, same shape as the
// secrets tenants would bring themselves.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Recalculate rebuilds an endpoint's health snapshot after manual edits.
func Recalculate(ep *endpoint.Endpoint) {
	ep.Health.HealthScore = health.Score(ep.Health)
	ep.Health.Healthy = ep.Status == endpoint.StatusActive && ep.Health.HealthScore >= endpoint.HealthyThreshold
}
