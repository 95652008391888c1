package retry

import (
	"math/rand"
	"time"

	"github.com/courseloop/hookrelay/internal/endpoint"
)

// Policy decides retry eligibility and backoff for one delivery, built from
// the config snapshot the delivery carries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Exponential bool
	JitterPct   float64 // 0 disables jitter
}

// FromConfig derives the policy from a delivery's snapshotted endpoint config.
func FromConfig(cfg endpoint.DeliveryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryDelay,
		Exponential: cfg.ExponentialBackoff,
	}
}

// ShouldRetry reports whether a delivery that just failed its attempt-th
// attempt may be retried: retries so far under budget, not past its TTL, and
// the endpoint still active.
func (p Policy) ShouldRetry(attempt int, expiresAt time.Time, epStatus endpoint.Status, now time.Time) bool {
	retries := attempt - 1 // the first attempt is not a retry
	if retries < 0 {
		retries = 0
	}
	if retries >= p.MaxAttempts {
		return false
	}
	if !now.Before(expiresAt) {
		return false
	}
	return epStatus == endpoint.StatusActive
}

// Delay returns the backoff before the retry that follows the attempt-th
// failed attempt: baseDelay * 2^(attempt-1) when exponential, else baseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	n := attempt - 1
	if n < 0 {
		n = 0
	}
	if n > 20 { // cap the shift; past this the TTL expires the delivery anyway
		n = 20
	}
	return p.BaseDelay << uint(n)
}

// WithJitter spreads d by +/- JitterPct to avoid retry thundering herds.
func (p Policy) WithJitter(d time.Duration) time.Duration {
	if p.JitterPct <= 0 {
		return d
	}
	j := 1 + (rand.Float64()*2-1)*p.JitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(d) * j)
}
