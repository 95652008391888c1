// Package memory holds in-process store implementations with the same
// transition guards as the postgres store. Tests and the local demo loop use
// them; nothing here survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/filter"
	"github.com/courseloop/hookrelay/internal/health"
	"github.com/courseloop/hookrelay/internal/store"
)

// EndpointStore is an in-memory store.EndpointStore. A single mutex
// serializes health updates, which satisfies the per-endpoint
// read-modify-write requirement.
type EndpointStore struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint.Endpoint
}

// NewEndpointStore returns an empty endpoint store.
func NewEndpointStore() *EndpointStore {
	return &EndpointStore{endpoints: make(map[string]*endpoint.Endpoint)}
}

func (s *EndpointStore) Create(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	ep.UpdatedAt = now
	s.endpoints[ep.ID] = copyEndpoint(ep)
	return nil
}

func (s *EndpointStore) Get(_ context.Context, id string) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyEndpoint(ep), nil
}

func (s *EndpointStore) Update(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return store.ErrNotFound
	}
	ep.UpdatedAt = time.Now().UTC()
	s.endpoints[ep.ID] = copyEndpoint(ep)
	return nil
}

func (s *EndpointStore) List(_ context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if tenantID == "" || ep.TenantID == tenantID {
			out = append(out, copyEndpoint(ep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *EndpointStore) FindSubscribed(_ context.Context, eventType, tenantID string) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if !ep.Active() || !ep.SubscribedTo(eventType) {
			continue
		}
		// System-wide endpoints (empty tenant) see every tenant's events;
		// tenant endpoints only their own.
		if ep.TenantID != "" && ep.TenantID != tenantID {
			continue
		}
		out = append(out, copyEndpoint(ep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *EndpointStore) SetStatus(_ context.Context, id string, status endpoint.Status, resetFailures bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return store.ErrNotFound
	}
	ep.Status = status
	if resetFailures {
		ep.Health.ConsecutiveFailures = 0
	}
	ep.Health.HealthScore = health.Score(ep.Health)
	ep.Health.Healthy = ep.Status == endpoint.StatusActive && ep.Health.HealthScore >= endpoint.HealthyThreshold
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *EndpointStore) RecordOutcome(_ context.Context, id string, success bool, latency time.Duration, lastError string) (*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	health.RecordOutcome(ep, success, latency, lastError)
	ep.UpdatedAt = time.Now().UTC()
	return copyEndpoint(ep), nil
}

func (s *EndpointStore) SetVerified(_ context.Context, id string, token string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return store.ErrNotFound
	}
	ep.VerificationToken = token
	ep.Verified = true
	ep.VerifiedAt = &verifiedAt
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *EndpointStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.endpoints, id)
	return nil
}

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	out := *ep
	out.EventTypes = append([]string(nil), ep.EventTypes...)
	if ep.Config.Headers != nil {
		out.Config.Headers = make(map[string]string, len(ep.Config.Headers))
		for k, v := range ep.Config.Headers {
			out.Config.Headers[k] = v
		}
	}
	out.Config.Filters = append([]filter.Rule(nil), ep.Config.Filters...)
	if ep.VerifiedAt != nil {
		at := *ep.VerifiedAt
		out.VerifiedAt = &at
	}
	return &out
}
