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

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/store"
)

const deliveryCols = `
	id, endpoint_id, tenant_id, event_id, event_type, payload, priority,
	status, attempt, url, config, scheduled_at, next_retry_at, expires_at,
	last_error, request, response, created_at, updated_at`

// DeliveryStore is the pgx-backed store.DeliveryStore.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore wraps pool.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

func (s *DeliveryStore) Create(ctx context.Context, d *delivery.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	cfg, err := json.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.deliveries(
			id, endpoint_id, tenant_id, event_id, event_type, payload,
			priority, status, attempt, url, config,
			scheduled_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		d.ID, d.EndpointID, d.TenantID, d.EventID, d.EventType, []byte(d.Payload),
		string(d.Priority), string(d.Status), d.Attempt, d.URL, cfg,
		d.ScheduledAt, d.ExpiresAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStore) Get(ctx context.Context, id string) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM hookrelay.deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (s *DeliveryStore) ListForEndpoint(ctx context.Context, endpointID string, limit int) ([]*delivery.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryCols+`
		FROM hookrelay.deliveries
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// Claim is a single-statement compare-and-set: the UPDATE only matches
// claimable states, so exactly one concurrent worker wins.
func (s *DeliveryStore) Claim(ctx context.Context, id string) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE hookrelay.deliveries
		SET status='processing', updated_at=now()
		WHERE id=$1 AND status IN ('pending','retrying')
		RETURNING `+deliveryCols, id)
	d, err := scanDelivery(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.disambiguate(ctx, id)
	}
	return d, err
}

// disambiguate turns a guarded-update miss into ErrNotFound or ErrConflict.
func (s *DeliveryStore) disambiguate(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM hookrelay.deliveries WHERE id=$1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check delivery existence: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *DeliveryStore) MarkSuccess(ctx context.Context, id string, req *delivery.Request, resp *delivery.Response) error {
	return s.finish(ctx, id, delivery.StatusSuccess, req, resp, "")
}

func (s *DeliveryStore) MarkFailed(ctx context.Context, id string, req *delivery.Request, resp *delivery.Response, lastError string) error {
	return s.finish(ctx, id, delivery.StatusFailed, req, resp, lastError)
}

func (s *DeliveryStore) finish(ctx context.Context, id string, status delivery.Status, req *delivery.Request, resp *delivery.Response, lastError string) error {
	reqJSON, err := marshalNullable(req)
	if err != nil {
		return err
	}
	respJSON, err := marshalNullable(resp)
	if err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status=$2, attempt=attempt+1, request=$3, response=$4,
		    last_error=$5, next_retry_at=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'`,
		id, string(status), reqJSON, respJSON, lastError)
	if err != nil {
		return fmt.Errorf("finish delivery: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.disambiguate(ctx, id)
	}
	return nil
}

func (s *DeliveryStore) MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status='retrying', next_retry_at=$2, updated_at=now()
		WHERE id=$1 AND status='failed'`, id, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.disambiguate(ctx, id)
	}
	return nil
}

func (s *DeliveryStore) Cancel(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status NOT IN ('success','expired','cancelled')`, id)
	if err != nil {
		return fmt.Errorf("cancel delivery: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.disambiguate(ctx, id)
	}
	return nil
}

func (s *DeliveryStore) CancelForEndpoint(ctx context.Context, endpointID string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status='cancelled', updated_at=now()
		WHERE endpoint_id=$1 AND status NOT IN ('success','expired','cancelled')`,
		endpointID)
	if err != nil {
		return 0, fmt.Errorf("cancel deliveries for endpoint: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *DeliveryStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status='expired', updated_at=now()
		WHERE expires_at <= $1 AND status NOT IN ('success','expired','cancelled')`,
		now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *DeliveryStore) ReclaimStale(ctx context.Context, olderThan time.Time) ([]*delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE hookrelay.deliveries
		SET status='retrying', updated_at=now()
		WHERE status='processing' AND updated_at < $1
		RETURNING `+deliveryCols, olderThan)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *DeliveryStore) Stats(ctx context.Context, endpointID string) (*delivery.Stats, error) {
	st := &delivery.Stats{}
	var avgNs *float64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status='pending'),
		       count(*) FILTER (WHERE status='processing'),
		       count(*) FILTER (WHERE status='success'),
		       count(*) FILTER (WHERE status='failed'),
		       count(*) FILTER (WHERE status='retrying'),
		       count(*) FILTER (WHERE status='expired'),
		       count(*) FILTER (WHERE status='cancelled'),
		       avg((response->>'latency')::numeric)
		FROM hookrelay.deliveries
		WHERE $1 = '' OR endpoint_id = $1`, endpointID,
	).Scan(&st.Total, &st.Pending, &st.Processing, &st.Succeeded, &st.Failed,
		&st.Retrying, &st.Expired, &st.Cancelled, &avgNs)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	if done := st.Succeeded + st.Failed + st.Expired; done > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(done) * 100
	}
	if avgNs != nil {
		st.AvgLatency = time.Duration(*avgNs)
	}
	return st, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *delivery.Request:
		if x == nil {
			return nil, nil
		}
	case *delivery.Response:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal capture: %w", err)
	}
	return b, nil
}

func collectDeliveries(rows pgx.Rows) ([]*delivery.Delivery, error) {
	var out []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (*delivery.Delivery, error) {
	var (
		d           delivery.Delivery
		priority    string
		status      string
		payload     []byte
		cfg         []byte
		reqJSON     []byte
		respJSON    []byte
		nextRetryAt *time.Time
		lastError   *string
	)
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.TenantID, &d.EventID, &d.EventType, &payload,
		&priority, &status, &d.Attempt, &d.URL, &cfg,
		&d.ScheduledAt, &nextRetryAt, &d.ExpiresAt,
		&lastError, &reqJSON, &respJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.Payload = payload
	d.Priority = delivery.Priority(priority)
	d.Status = delivery.Status(status)
	d.NextRetryAt = nextRetryAt
	if lastError != nil {
		d.LastError = *lastError
	}
	if err := json.Unmarshal(cfg, &d.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config snapshot: %w", err)
	}
	if len(reqJSON) > 0 {
		d.Request = &delivery.Request{}
		if err := json.Unmarshal(reqJSON, d.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request capture: %w", err)
		}
	}
	if len(respJSON) > 0 {
		d.Response = &delivery.Response{}
		if err := json.Unmarshal(respJSON, d.Response); err != nil {
			return nil, fmt.Errorf("unmarshal response capture: %w", err)
		}
	}
	return &d, nil
}
