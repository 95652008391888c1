// Package store defines persistence for endpoints and deliveries. The
// postgres implementation backs production; the memory implementation backs
// tests and local runs. Both enforce the same state-machine guards so the
// executor's at-most-one-claim and stale-outcome rules hold everywhere.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
)

var (
	// ErrNotFound means the row does not exist (or was deleted).
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a guarded transition found the row in another state,
	// e.g. a claim lost the race or an outcome arrived for a cancelled
	// delivery.
	ErrConflict = errors.New("store: state conflict")
)

// EndpointStore persists endpoints. RecordOutcome serializes
// read-modify-write health updates per endpoint (row lock in postgres, mutex
// in memory) so concurrent deliveries never lose counter updates.
type EndpointStore interface {
	Create(ctx context.Context, ep *endpoint.Endpoint) error
	Get(ctx context.Context, id string) (*endpoint.Endpoint, error)
	Update(ctx context.Context, ep *endpoint.Endpoint) error
	List(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error)

	// FindSubscribed returns active endpoints subscribed to eventType,
	// scoped to tenantID plus system-wide endpoints; with an empty tenant
	// only system-wide endpoints match.
	FindSubscribed(ctx context.Context, eventType, tenantID string) ([]*endpoint.Endpoint, error)

	// SetStatus transitions the lifecycle status, optionally clearing the
	// consecutive-failure counter (enable/disable do).
	SetStatus(ctx context.Context, id string, status endpoint.Status, resetFailures bool) error

	// RecordOutcome folds one delivery outcome into the endpoint's health
	// under per-endpoint serialization and returns the updated endpoint.
	// Suspension by the circuit breaker happens inside this call.
	RecordOutcome(ctx context.Context, id string, success bool, latency time.Duration, lastError string) (*endpoint.Endpoint, error)

	SetVerified(ctx context.Context, id string, token string, verifiedAt time.Time) error

	// Delete removes the endpoint. Deliveries referencing it are cancelled
	// by the caller (service layer) in the same logical operation.
	Delete(ctx context.Context, id string) error
}

// DeliveryStore persists deliveries and enforces their state machine.
type DeliveryStore interface {
	Create(ctx context.Context, d *delivery.Delivery) error
	Get(ctx context.Context, id string) (*delivery.Delivery, error)
	ListForEndpoint(ctx context.Context, endpointID string, limit int) ([]*delivery.Delivery, error)

	// Claim atomically moves a pending or retrying delivery to processing
	// and returns it. ErrConflict means another worker won the race or the
	// delivery left the claimable states; the caller skips the item.
	Claim(ctx context.Context, id string) (*delivery.Delivery, error)

	// MarkSuccess finishes a processing delivery. ErrConflict means the
	// delivery is no longer processing (e.g. cancelled mid-flight) and the
	// outcome must be dropped.
	MarkSuccess(ctx context.Context, id string, req *delivery.Request, resp *delivery.Response) error

	// MarkFailed records a failed attempt (incrementing the attempt count)
	// under the same processing guard as MarkSuccess.
	MarkFailed(ctx context.Context, id string, req *delivery.Request, resp *delivery.Response, lastError string) error

	// MarkRetrying moves a failed delivery back into the retry loop.
	MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time) error

	// Cancel terminates a non-terminal delivery.
	Cancel(ctx context.Context, id string) error

	// CancelForEndpoint cancels every non-terminal delivery of an endpoint,
	// used when the endpoint is deleted.
	CancelForEndpoint(ctx context.Context, endpointID string) (int64, error)

	// ExpireOverdue marks non-terminal deliveries past their TTL expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// ReclaimStale flips deliveries stuck in processing since before
	// olderThan back to retrying and returns them for re-enqueue.
	ReclaimStale(ctx context.Context, olderThan time.Time) ([]*delivery.Delivery, error)

	// Stats aggregates outcomes for one endpoint, or system-wide when
	// endpointID is empty.
	Stats(ctx context.Context, endpointID string) (*delivery.Stats, error)
}
