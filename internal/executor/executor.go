// Package executor performs delivery attempts: it claims a delivery, signs
// and sends the HTTP request, records the outcome on both the delivery and
// the endpoint's health, and hands failures to the retry scheduler.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/metrics"
	"github.com/courseloop/hookrelay/internal/retry"
	"github.com/courseloop/hookrelay/internal/signature"
	"github.com/courseloop/hookrelay/internal/store"
	"github.com/courseloop/hookrelay/internal/tracing"
)

const (
	// UserAgent identifies outgoing webhook requests.
	UserAgent = "hookrelay/1.0"

	deliveryIDHeader = "X-Webhook-Delivery"
	eventTypeHeader  = "X-Webhook-Event"
	timestampHeader  = "X-Webhook-Timestamp"
	traceIDHeader    = "X-Trace-Id"

	// maxCapturedBody bounds how much of a receiver's response body gets
	// stored on the delivery row.
	maxCapturedBody = 64 * 1024
)

// Executor runs delivery attempts against receiver endpoints.
type Executor struct {
	endpoints  store.EndpointStore
	deliveries store.DeliveryStore
	scheduler  *retry.Scheduler
	client     *http.Client
	log        *logging.Logger
}

// New builds an executor. The client's own timeout is unused; each attempt
// gets a context deadline from the delivery's config snapshot.
func New(endpoints store.EndpointStore, deliveries store.DeliveryStore, scheduler *retry.Scheduler, client *http.Client, log *logging.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{endpoints: endpoints, deliveries: deliveries, scheduler: scheduler, client: client, log: log}
}

// Execute claims the delivery and performs one attempt. A lost claim race or
// a stale outcome returns nil: the item needs no redelivery either way.
func (ex *Executor) Execute(ctx context.Context, deliveryID string) error {
	ctx, span := tracing.StartSpan(ctx, "executor.Execute",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	d, err := ex.deliveries.Claim(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			tracing.AddSpanEvent(ctx, "claim.lost")
			ex.log.WithContext(ctx).WithDelivery(deliveryID).Debug("claim lost, skipping")
			return nil
		}
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("claim delivery: %w", err)
	}
	span.SetAttributes(
		attribute.String("event_id", d.EventID),
		attribute.String("endpoint_id", d.EndpointID),
		attribute.Int("attempt", d.Attempt+1),
	)

	now := time.Now().UTC()
	if d.Expired(now) {
		// The sweep will move it to expired; the failure record keeps the
		// reason visible in the meantime.
		tracing.AddSpanEvent(ctx, "delivery.expired")
		return ex.fail(ctx, d, endpoint.StatusActive, nil, nil, "delivery ttl exceeded", "expired")
	}

	ep, err := ex.endpoints.Get(ctx, d.EndpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			tracing.AddSpanEvent(ctx, "endpoint.gone")
			return ex.cancel(ctx, d, "endpoint deleted")
		}
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("get endpoint: %w", err)
	}
	switch ep.Status {
	case endpoint.StatusActive:
	case endpoint.StatusSuspended:
		// Circuit open: record the failure; the real status makes it terminal.
		tracing.AddSpanEvent(ctx, "endpoint.suspended")
		return ex.fail(ctx, d, ep.Status, nil, nil, "endpoint suspended", "suspended")
	default:
		tracing.AddSpanEvent(ctx, "endpoint.disabled")
		return ex.cancel(ctx, d, "endpoint disabled")
	}

	req, captured, err := ex.buildRequest(ctx, d)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return ex.fail(ctx, d, ep.Status, captured, nil, err.Error(), "sign_error")
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	attemptCtx, cancel := context.WithTimeout(ctx, d.Config.Timeout)
	defer cancel()
	start := time.Now()
	resp, doErr := ex.client.Do(req.WithContext(attemptCtx))
	latency := time.Since(start)

	capturedResp := captureResponse(resp, latency)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if doErr == nil && status >= 200 && status < 300 {
		return ex.succeed(ctx, d, ep, captured, capturedResp, latency)
	}

	reason := classifyReason(doErr, status)
	span.SetAttributes(attribute.String("failure_reason", reason))
	lastErr := fmt.Sprintf("http status %d", status)
	if doErr != nil {
		lastErr = doErr.Error()
	}
	return ex.failWithHealth(ctx, d, ep, captured, capturedResp, latency, lastErr, reason)
}

// buildRequest signs the payload with the delivery's config snapshot and
// assembles the outgoing request with standard and custom headers.
func (ex *Executor) buildRequest(ctx context.Context, d *delivery.Delivery) (*http.Request, *delivery.Request, error) {
	sig, err := signature.Sign(d.Config.SignatureAlgorithm, d.Config.Secret, d.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("sign payload: %w", err)
	}

	method := d.Config.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(d.Config.SignatureHeader, sig)
	req.Header.Set(deliveryIDHeader, d.ID)
	req.Header.Set(eventTypeHeader, d.EventType)
	req.Header.Set(timestampHeader, time.Now().UTC().Format(time.RFC3339))
	for k, v := range d.Config.Headers {
		req.Header.Set(k, v)
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set(traceIDHeader, traceID)
	}

	captured := &delivery.Request{
		URL:     d.URL,
		Method:  method,
		Headers: flattenHeaders(req.Header),
		Body:    string(d.Payload),
		Timeout: d.Config.Timeout,
	}
	return req, captured, nil
}

// succeed finishes the delivery and folds the success into endpoint health.
func (ex *Executor) succeed(ctx context.Context, d *delivery.Delivery, ep *endpoint.Endpoint, req *delivery.Request, resp *delivery.Response, latency time.Duration) error {
	if err := ex.deliveries.MarkSuccess(ctx, d.ID, req, resp); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Cancelled mid-flight; the outcome is stale and dropped.
			tracing.AddSpanEvent(ctx, "outcome.stale_dropped")
			ex.log.WithContext(ctx).WithDelivery(d.ID).Warn("stale success dropped")
			return nil
		}
		return fmt.Errorf("mark success: %w", err)
	}

	if _, err := ex.endpoints.RecordOutcome(ctx, ep.ID, true, latency, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		ex.log.WithContext(ctx).WithEndpoint(ep.ID).WithError(err).Error("record success outcome failed")
	}

	metrics.RecordDelivery("success", latency)
	tracing.AddSpanEvent(ctx, "delivery.success")
	ex.log.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(ep.ID).WithFields(map[string]any{
		"attempt":    d.Attempt + 1,
		"latency_ms": latency.Milliseconds(),
	}).Info("delivery succeeded")
	return nil
}

// failWithHealth records the failed attempt, updates endpoint health (which
// may trip the circuit breaker), and lets the scheduler decide on a retry.
func (ex *Executor) failWithHealth(ctx context.Context, d *delivery.Delivery, ep *endpoint.Endpoint, req *delivery.Request, resp *delivery.Response, latency time.Duration, lastErr, reason string) error {
	applied, err := ex.markFailed(ctx, d, req, resp, lastErr)
	if err != nil || !applied {
		return err
	}

	updated, err := ex.endpoints.RecordOutcome(ctx, ep.ID, false, latency, lastErr)
	epStatus := ep.Status
	switch {
	case err == nil:
		epStatus = updated.Status
		if updated.Status == endpoint.StatusSuspended && ep.Status != endpoint.StatusSuspended {
			metrics.RecordEndpointSuspended()
			tracing.AddSpanEvent(ctx, "endpoint.circuit_opened")
			ex.log.WithContext(ctx).WithEndpoint(ep.ID).WithField("consecutive_failures", updated.Health.ConsecutiveFailures).
				Warn("endpoint suspended by circuit breaker")
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		ex.log.WithContext(ctx).WithEndpoint(ep.ID).WithError(err).Error("record failure outcome failed")
	}

	metrics.RecordDelivery("failed", latency)
	_, schedErr := ex.scheduler.HandleFailure(ctx, d, d.Attempt, epStatus, reason)
	return schedErr
}

// fail records a failed attempt without touching endpoint health, for
// failures that say nothing about the receiver (expiry, suspension, signing).
// epStatus is the endpoint's current status so the scheduler's eligibility
// check sees suspended endpoints and keeps their deliveries terminal.
func (ex *Executor) fail(ctx context.Context, d *delivery.Delivery, epStatus endpoint.Status, req *delivery.Request, resp *delivery.Response, lastErr, reason string) error {
	applied, err := ex.markFailed(ctx, d, req, resp, lastErr)
	if err != nil || !applied {
		return err
	}
	metrics.RecordDelivery("failed", 0)
	_, schedErr := ex.scheduler.HandleFailure(ctx, d, d.Attempt, epStatus, reason)
	return schedErr
}

// markFailed applies the failure and advances d's local attempt counter.
// Returns false without error when the outcome was stale and dropped.
func (ex *Executor) markFailed(ctx context.Context, d *delivery.Delivery, req *delivery.Request, resp *delivery.Response, lastErr string) (bool, error) {
	if err := ex.deliveries.MarkFailed(ctx, d.ID, req, resp, lastErr); err != nil {
		if errors.Is(err, store.ErrConflict) {
			tracing.AddSpanEvent(ctx, "outcome.stale_dropped")
			ex.log.WithContext(ctx).WithDelivery(d.ID).Warn("stale failure dropped")
			return false, nil
		}
		return false, fmt.Errorf("mark failed: %w", err)
	}
	d.Attempt++
	d.Status = delivery.StatusFailed
	d.LastError = lastErr
	return true, nil
}

// cancel terminates a delivery whose endpoint is gone or disabled.
func (ex *Executor) cancel(ctx context.Context, d *delivery.Delivery, why string) error {
	if err := ex.deliveries.Cancel(ctx, d.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("cancel delivery: %w", err)
	}
	metrics.RecordDelivery("cancelled", 0)
	ex.log.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(d.EndpointID).
		WithField("reason", why).Info("delivery cancelled")
	return nil
}

// captureResponse snapshots status, headers, and a bounded slice of the body.
func captureResponse(resp *http.Response, latency time.Duration) *delivery.Response {
	if resp == nil {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	// Drain so the transport can reuse the connection.
	_, _ = io.Copy(io.Discard, resp.Body)
	return &delivery.Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(body),
		Latency:    latency,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
