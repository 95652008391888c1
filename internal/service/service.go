// Package service is the management facade: endpoint lifecycle, event
// publishing, manual retries, and stats, composed from the registry,
// dispatcher, verifier, and stores. Callers embed it behind whatever
// transport they run (CLI, internal RPC).
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courseloop/hookrelay/internal/catalog"
	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/dispatch"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/event"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/registry"
	"github.com/courseloop/hookrelay/internal/store"
	"github.com/courseloop/hookrelay/internal/tracing"
	"github.com/courseloop/hookrelay/internal/verify"
)

// ErrNotRetryable means a manual retry was requested for a delivery that is
// not in failed state.
var ErrNotRetryable = errors.New("service: delivery not retryable")

// Service bundles the management operations.
type Service struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	verifier   *verify.Verifier
	endpoints  store.EndpointStore
	deliveries store.DeliveryStore
	queue      queue.Queue
	log        *logging.Logger
}

// New composes the facade.
func New(reg *registry.Registry, disp *dispatch.Dispatcher, ver *verify.Verifier, endpoints store.EndpointStore, deliveries store.DeliveryStore, q queue.Queue, log *logging.Logger) *Service {
	return &Service{
		registry:   reg,
		dispatcher: disp,
		verifier:   ver,
		endpoints:  endpoints,
		deliveries: deliveries,
		queue:      q,
		log:        log,
	}
}

// RegisterEndpoint creates the endpoint and, when verifyNow is set, runs the
// ownership handshake immediately. A failed handshake leaves the endpoint
// registered but unverified; the returned error says why.
func (s *Service) RegisterEndpoint(ctx context.Context, in registry.RegisterInput, verifyNow bool) (*endpoint.Endpoint, error) {
	ep, err := s.registry.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	if verifyNow {
		if err := s.verifier.Verify(ctx, ep.ID); err != nil {
			return ep, fmt.Errorf("endpoint registered, verification failed: %w", err)
		}
		return s.registry.Get(ctx, ep.ID)
	}
	return ep, nil
}

// UpdateEndpoint applies a partial edit.
func (s *Service) UpdateEndpoint(ctx context.Context, id string, in registry.UpdateInput) (*endpoint.Endpoint, error) {
	return s.registry.Update(ctx, id, in)
}

// GetEndpoint returns one endpoint.
func (s *Service) GetEndpoint(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	return s.registry.Get(ctx, id)
}

// ListEndpoints returns endpoints, optionally scoped to a tenant.
func (s *Service) ListEndpoints(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	return s.registry.List(ctx, tenantID)
}

// DisableEndpoint takes the endpoint out of dispatch.
func (s *Service) DisableEndpoint(ctx context.Context, id, reason string) error {
	return s.registry.Disable(ctx, id, reason)
}

// EnableEndpoint puts a disabled or suspended endpoint back into dispatch.
func (s *Service) EnableEndpoint(ctx context.Context, id string) error {
	return s.registry.Enable(ctx, id)
}

// VerifyEndpoint runs the ownership handshake.
func (s *Service) VerifyEndpoint(ctx context.Context, id string) error {
	return s.verifier.Verify(ctx, id)
}

// DeleteEndpoint cancels the endpoint's non-terminal deliveries, then removes
// the endpoint if no delivery history references it. With history present the
// endpoint is disabled instead, keeping delivery rows attributable.
func (s *Service) DeleteEndpoint(ctx context.Context, id string) (cancelled int64, hardDeleted bool, err error) {
	if _, err = s.endpoints.Get(ctx, id); err != nil {
		return 0, false, err
	}
	cancelled, err = s.deliveries.CancelForEndpoint(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("cancel deliveries: %w", err)
	}

	history, err := s.deliveries.ListForEndpoint(ctx, id, 1)
	if err != nil {
		return cancelled, false, fmt.Errorf("check delivery history: %w", err)
	}
	if len(history) > 0 {
		if err := s.endpoints.SetStatus(ctx, id, endpoint.StatusDisabled, true); err != nil {
			return cancelled, false, err
		}
		s.log.WithContext(ctx).WithEndpoint(id).WithField("cancelled", cancelled).
			Info("endpoint disabled in place of delete, delivery history retained")
		return cancelled, false, nil
	}

	if err := s.endpoints.Delete(ctx, id); err != nil {
		return cancelled, false, err
	}
	s.log.WithContext(ctx).WithEndpoint(id).Info("endpoint deleted")
	return cancelled, true, nil
}

// PublishEvent dispatches env to its subscribers.
func (s *Service) PublishEvent(ctx context.Context, env event.Envelope) (*dispatch.Result, error) {
	return s.dispatcher.Dispatch(ctx, env)
}

// SendTestEvent creates a synthetic test delivery straight to the endpoint,
// bypassing subscriptions and filters.
func (s *Service) SendTestEvent(ctx context.Context, endpointID string) (*delivery.Delivery, error) {
	ep, err := s.registry.Get(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	env := event.New(catalog.TestEvent, map[string]any{
		"endpoint_id": ep.ID,
		"test":        true,
		"sent_at":     time.Now().UTC().Format(time.RFC3339),
	})
	env.TenantID = ep.TenantID
	return s.dispatcher.DispatchTo(ctx, ep, env)
}

// RetryDelivery re-enqueues a failed delivery immediately, outside its
// normal retry budget. Only failed deliveries qualify; terminal and in-flight
// states return ErrNotRetryable.
func (s *Service) RetryDelivery(ctx context.Context, id string) error {
	d, err := s.deliveries.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != delivery.StatusFailed {
		return fmt.Errorf("%w: status %s", ErrNotRetryable, d.Status)
	}
	now := time.Now().UTC()
	if err := s.deliveries.MarkRetrying(ctx, id, now); err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	task := delivery.NewTask(d, now.Format(time.RFC3339), tracing.PropagateTrace(ctx))
	if err := s.queue.Publish(ctx, task, 0); err != nil {
		return fmt.Errorf("queue publish: %w", err)
	}
	s.log.WithContext(ctx).WithDelivery(id).Info("manual retry enqueued")
	return nil
}

// GetDelivery returns one delivery with its request and response captures.
func (s *Service) GetDelivery(ctx context.Context, id string) (*delivery.Delivery, error) {
	return s.deliveries.Get(ctx, id)
}

// ListDeliveries returns recent deliveries for an endpoint.
func (s *Service) ListDeliveries(ctx context.Context, endpointID string, limit int) ([]*delivery.Delivery, error) {
	return s.deliveries.ListForEndpoint(ctx, endpointID, limit)
}

// EndpointStats aggregates delivery outcomes for one endpoint.
func (s *Service) EndpointStats(ctx context.Context, endpointID string) (*delivery.Stats, error) {
	return s.deliveries.Stats(ctx, endpointID)
}

// SystemStats aggregates delivery outcomes across all endpoints.
func (s *Service) SystemStats(ctx context.Context) (*delivery.Stats, error) {
	return s.deliveries.Stats(ctx, "")
}
