package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/store"
)

// DeliveryStore is an in-memory store.DeliveryStore with the same transition
// guards as the postgres implementation.
type DeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]*delivery.Delivery
}

// NewDeliveryStore returns an empty delivery store.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{deliveries: make(map[string]*delivery.Delivery)}
}

func (s *DeliveryStore) Create(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (s *DeliveryStore) Get(_ context.Context, id string) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyDelivery(d), nil
}

func (s *DeliveryStore) ListForEndpoint(_ context.Context, endpointID string, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim is the compare-and-set that guarantees at most one active executor
// per delivery attempt.
func (s *DeliveryStore) Claim(_ context.Context, id string) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if d.Status != delivery.StatusPending && d.Status != delivery.StatusRetrying {
		return nil, store.ErrConflict
	}
	d.Status = delivery.StatusProcessing
	d.UpdatedAt = time.Now().UTC()
	return copyDelivery(d), nil
}

func (s *DeliveryStore) MarkSuccess(_ context.Context, id string, req *delivery.Request, resp *delivery.Response) error {
	return s.finish(id, delivery.StatusSuccess, req, resp, "")
}

func (s *DeliveryStore) MarkFailed(_ context.Context, id string, req *delivery.Request, resp *delivery.Response, lastError string) error {
	return s.finish(id, delivery.StatusFailed, req, resp, lastError)
}

// finish applies an outcome under the processing guard: if the delivery was
// cancelled or expired mid-flight the stale outcome is dropped.
func (s *DeliveryStore) finish(id string, status delivery.Status, req *delivery.Request, resp *delivery.Response, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.Status != delivery.StatusProcessing {
		return store.ErrConflict
	}
	d.Status = status
	d.Attempt++
	d.Request = req
	d.Response = resp
	d.LastError = lastError
	d.NextRetryAt = nil
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DeliveryStore) MarkRetrying(_ context.Context, id string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.Status != delivery.StatusFailed {
		return store.ErrConflict
	}
	d.Status = delivery.StatusRetrying
	d.NextRetryAt = &nextRetryAt
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DeliveryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	if d.Status.Terminal() {
		return store.ErrConflict
	}
	d.Status = delivery.StatusCancelled
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *DeliveryStore) CancelForEndpoint(_ context.Context, endpointID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID && !d.Status.Terminal() {
			d.Status = delivery.StatusCancelled
			d.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *DeliveryStore) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.deliveries {
		if !d.Status.Terminal() && d.Expired(now) {
			d.Status = delivery.StatusExpired
			d.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *DeliveryStore) ReclaimStale(_ context.Context, olderThan time.Time) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*delivery.Delivery
	now := time.Now().UTC()
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusProcessing && d.UpdatedAt.Before(olderThan) {
			d.Status = delivery.StatusRetrying
			d.UpdatedAt = now
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

func (s *DeliveryStore) Stats(_ context.Context, endpointID string) (*delivery.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &delivery.Stats{}
	var latencySum time.Duration
	var latencyN int64
	for _, d := range s.deliveries {
		if endpointID != "" && d.EndpointID != endpointID {
			continue
		}
		st.Total++
		switch d.Status {
		case delivery.StatusPending:
			st.Pending++
		case delivery.StatusProcessing:
			st.Processing++
		case delivery.StatusSuccess:
			st.Succeeded++
		case delivery.StatusFailed:
			st.Failed++
		case delivery.StatusRetrying:
			st.Retrying++
		case delivery.StatusExpired:
			st.Expired++
		case delivery.StatusCancelled:
			st.Cancelled++
		}
		if d.Response != nil && d.Response.Latency > 0 {
			latencySum += d.Response.Latency
			latencyN++
		}
	}
	if done := st.Succeeded + st.Failed + st.Expired; done > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(done) * 100
	}
	if latencyN > 0 {
		st.AvgLatency = latencySum / time.Duration(latencyN)
	}
	return st, nil
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	out := *d
	out.Payload = append([]byte(nil), d.Payload...)
	if d.NextRetryAt != nil {
		at := *d.NextRetryAt
		out.NextRetryAt = &at
	}
	if d.Request != nil {
		req := *d.Request
		out.Request = &req
	}
	if d.Response != nil {
		resp := *d.Response
		out.Response = &resp
	}
	return &out
}
