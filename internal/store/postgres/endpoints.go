package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/health"
	"github.com/courseloop/hookrelay/internal/store"
)

const endpointCols = `
	id, tenant_id, name, url, status, created_by, event_types, config,
	verification_token, verified, verified_at,
	total_count, success_count, failure_count, consecutive_failures,
	avg_response_ms, health_score, healthy, last_error,
	created_at, updated_at`

// EndpointStore is the pgx-backed store.EndpointStore.
type EndpointStore struct {
	pool *pgxpool.Pool
}

// NewEndpointStore wraps pool.
func NewEndpointStore(pool *pgxpool.Pool) *EndpointStore {
	return &EndpointStore{pool: pool}
}

func (s *EndpointStore) Create(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	cfg, err := json.Marshal(ep.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.endpoints(
			id, tenant_id, name, url, status, created_by, event_types, config,
			verification_token, verified,
			total_count, success_count, failure_count, consecutive_failures,
			avg_response_ms, health_score, healthy)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		ep.ID, ep.TenantID, ep.Name, ep.URL, string(ep.Status), ep.CreatedBy,
		ep.EventTypes, cfg, ep.VerificationToken, ep.Verified,
		ep.Health.TotalDeliveries, ep.Health.SuccessfulDeliveries,
		ep.Health.FailedDeliveries, ep.Health.ConsecutiveFailures,
		ep.Health.AvgResponseTime.Milliseconds(), ep.Health.HealthScore, ep.Health.Healthy,
	).Scan(&ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

func (s *EndpointStore) Get(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+endpointCols+` FROM hookrelay.endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (s *EndpointStore) Update(ctx context.Context, ep *endpoint.Endpoint) error {
	cfg, err := json.Marshal(ep.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.endpoints
		SET name=$2, url=$3, status=$4, event_types=$5, config=$6, updated_at=now()
		WHERE id=$1`,
		ep.ID, ep.Name, ep.URL, string(ep.Status), ep.EventTypes, cfg)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *EndpointStore) List(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointCols+`
		FROM hookrelay.endpoints
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *EndpointStore) FindSubscribed(ctx context.Context, eventType, tenantID string) ([]*endpoint.Endpoint, error) {
	// Tenant events reach the tenant's endpoints plus system-wide ones;
	// tenantless events reach only system-wide endpoints.
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointCols+`
		FROM hookrelay.endpoints
		WHERE status = 'active'
		  AND (event_types @> ARRAY[$1] OR event_types @> ARRAY['*'])
		  AND (tenant_id = '' OR ($2 <> '' AND tenant_id = $2))
		ORDER BY created_at`, eventType, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *EndpointStore) SetStatus(ctx context.Context, id string, status endpoint.Status, resetFailures bool) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.endpoints
		SET status=$2,
		    consecutive_failures = CASE WHEN $3 THEN 0 ELSE consecutive_failures END,
		    healthy = ($2 = 'active' AND health_score >= $4),
		    updated_at=now()
		WHERE id=$1`,
		id, string(status), resetFailures, endpoint.HealthyThreshold)
	if err != nil {
		return fmt.Errorf("set endpoint status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordOutcome serializes the health read-modify-write with a row lock so
// concurrent deliveries to the same endpoint never lose counter updates.
func (s *EndpointStore) RecordOutcome(ctx context.Context, id string, success bool, latency time.Duration, lastError string) (*endpoint.Endpoint, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+endpointCols+` FROM hookrelay.endpoints WHERE id = $1 FOR UPDATE`, id)
	ep, err := scanEndpoint(row)
	if err != nil {
		return nil, err
	}

	health.RecordOutcome(ep, success, latency, lastError)

	_, err = tx.Exec(ctx, `
		UPDATE hookrelay.endpoints
		SET status=$2, total_count=$3, success_count=$4, failure_count=$5,
		    consecutive_failures=$6, avg_response_ms=$7, health_score=$8,
		    healthy=$9, last_error=$10, updated_at=now()
		WHERE id=$1`,
		ep.ID, string(ep.Status),
		ep.Health.TotalDeliveries, ep.Health.SuccessfulDeliveries, ep.Health.FailedDeliveries,
		ep.Health.ConsecutiveFailures, ep.Health.AvgResponseTime.Milliseconds(),
		ep.Health.HealthScore, ep.Health.Healthy, ep.Health.LastError)
	if err != nil {
		return nil, fmt.Errorf("update endpoint health: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ep, nil
}

func (s *EndpointStore) SetVerified(ctx context.Context, id string, token string, verifiedAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.endpoints
		SET verification_token=$2, verified=true, verified_at=$3, updated_at=now()
		WHERE id=$1`, id, token, verifiedAt)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *EndpointStore) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM hookrelay.endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func collectEndpoints(rows pgx.Rows) ([]*endpoint.Endpoint, error) {
	var out []*endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanEndpoint(row pgx.Row) (*endpoint.Endpoint, error) {
	var (
		ep        endpoint.Endpoint
		status    string
		cfg       []byte
		verified  *time.Time
		avgMs     int64
		lastError *string
	)
	err := row.Scan(
		&ep.ID, &ep.TenantID, &ep.Name, &ep.URL, &status, &ep.CreatedBy,
		&ep.EventTypes, &cfg,
		&ep.VerificationToken, &ep.Verified, &verified,
		&ep.Health.TotalDeliveries, &ep.Health.SuccessfulDeliveries,
		&ep.Health.FailedDeliveries, &ep.Health.ConsecutiveFailures,
		&avgMs, &ep.Health.HealthScore, &ep.Health.Healthy, &lastError,
		&ep.CreatedAt, &ep.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	ep.Status = endpoint.Status(status)
	ep.VerifiedAt = verified
	ep.Health.AvgResponseTime = time.Duration(avgMs) * time.Millisecond
	if lastError != nil {
		ep.Health.LastError = *lastError
	}
	if err := json.Unmarshal(cfg, &ep.Config); err != nil {
		return nil, fmt.Errorf("unmarshal endpoint config: %w", err)
	}
	return &ep, nil
}
