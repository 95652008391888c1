package health

import (
	"time"

	"github.com/courseloop/hookrelay/internal/endpoint"
)

// Latency penalties applied to the health score.
const (
	slowLatency     = 2 * time.Second
	verySlowLatency = 5 * time.Second
)

// Score computes the 0-100 rolling health score from the endpoint's metrics:
// start at 100, subtract half the failure-rate percentage, 10 per consecutive
// failure, and a latency penalty, then clamp.
func Score(m endpoint.HealthMetrics) float64 {
	score := 100.0
	score -= 0.5 * m.FailureRate()
	score -= 10 * float64(m.ConsecutiveFailures)
	if m.AvgResponseTime > verySlowLatency {
		score -= 20
	} else if m.AvgResponseTime > slowLatency {
		score -= 10
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ShouldSuspend reports whether the hard circuit breaker trips: sustained
// consecutive failures past twice the endpoint's retry budget mean the target
// is dead and further dispatch is pointless until manual re-enable.
func ShouldSuspend(consecutiveFailures, maxAttempts int) bool {
	return consecutiveFailures >= 2*maxAttempts
}

// RecordOutcome folds one delivery outcome into the endpoint's health state
// and returns whether the circuit breaker suspended it. The caller owns
// serialization: concurrent deliveries to the same endpoint must not invoke
// this on the same row without a lock.
func RecordOutcome(e *endpoint.Endpoint, success bool, latency time.Duration, lastError string) (suspended bool) {
	m := &e.Health
	m.TotalDeliveries++
	if success {
		m.SuccessfulDeliveries++
		m.ConsecutiveFailures = 0
		m.LastError = ""
		// Rolling average over successful responses only.
		n := m.SuccessfulDeliveries
		m.AvgResponseTime += (latency - m.AvgResponseTime) / time.Duration(n)
	} else {
		m.FailedDeliveries++
		m.ConsecutiveFailures++
		m.LastError = lastError
	}

	if !success && ShouldSuspend(m.ConsecutiveFailures, e.Config.MaxAttempts) && e.Status == endpoint.StatusActive {
		e.Status = endpoint.StatusSuspended
		suspended = true
	}

	m.HealthScore = Score(*m)
	m.Healthy = e.Status == endpoint.StatusActive && m.HealthScore >= endpoint.HealthyThreshold
	return suspended
}
