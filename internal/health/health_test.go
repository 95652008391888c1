package health

import (
	"testing"
	"time"

	"github.com/courseloop/hookrelay/internal/endpoint"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		metrics endpoint.HealthMetrics
		want    float64
	}{
		{
			name: "perfect endpoint",
			metrics: endpoint.HealthMetrics{
				TotalDeliveries:      100,
				SuccessfulDeliveries: 100,
				AvgResponseTime:      150 * time.Millisecond,
			},
			want: 100,
		},
		{
			name: "half failing with three consecutive failures",
			metrics: endpoint.HealthMetrics{
				TotalDeliveries:     10,
				FailedDeliveries:    5,
				ConsecutiveFailures: 3,
				AvgResponseTime:     150 * time.Millisecond,
			},
			want: 45, // 100 - 25 - 30
		},
		{
			name: "slow endpoint",
			metrics: endpoint.HealthMetrics{
				TotalDeliveries:      10,
				SuccessfulDeliveries: 10,
				AvgResponseTime:      3 * time.Second,
			},
			want: 90,
		},
		{
			name: "very slow endpoint",
			metrics: endpoint.HealthMetrics{
				TotalDeliveries:      10,
				SuccessfulDeliveries: 10,
				AvgResponseTime:      6 * time.Second,
			},
			want: 80,
		},
		{
			name: "clamped at zero",
			metrics: endpoint.HealthMetrics{
				TotalDeliveries:     10,
				FailedDeliveries:    10,
				ConsecutiveFailures: 10,
				AvgResponseTime:     10 * time.Second,
			},
			want: 0,
		},
		{
			name:    "no deliveries yet",
			metrics: endpoint.HealthMetrics{},
			want:    100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.metrics); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSuspend(t *testing.T) {
	if ShouldSuspend(5, 3) {
		t.Error("5 consecutive failures with maxAttempts=3 should not suspend")
	}
	if !ShouldSuspend(6, 3) {
		t.Error("6 consecutive failures with maxAttempts=3 should suspend")
	}
	if !ShouldSuspend(7, 3) {
		t.Error("7 consecutive failures with maxAttempts=3 should suspend")
	}
}

func TestRecordOutcomeSuccessResetsFailures(t *testing.T) {
	ep := &endpoint.Endpoint{
		Status: endpoint.StatusActive,
		Config: endpoint.DefaultConfig(),
		Health: endpoint.HealthMetrics{
			TotalDeliveries:     4,
			FailedDeliveries:    4,
			ConsecutiveFailures: 4,
			LastError:           "timeout",
		},
	}
	suspended := RecordOutcome(ep, true, 100*time.Millisecond, "")
	if suspended {
		t.Error("success must not suspend")
	}
	if ep.Health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", ep.Health.ConsecutiveFailures)
	}
	if ep.Health.LastError != "" {
		t.Errorf("LastError = %q, want empty", ep.Health.LastError)
	}
	if ep.Health.SuccessfulDeliveries != 1 || ep.Health.TotalDeliveries != 5 {
		t.Errorf("counters = %d/%d, want 1/5",
			ep.Health.SuccessfulDeliveries, ep.Health.TotalDeliveries)
	}
}

func TestRecordOutcomeRollingAverage(t *testing.T) {
	ep := &endpoint.Endpoint{Status: endpoint.StatusActive, Config: endpoint.DefaultConfig()}
	RecordOutcome(ep, true, 100*time.Millisecond, "")
	RecordOutcome(ep, true, 300*time.Millisecond, "")
	if got := ep.Health.AvgResponseTime; got != 200*time.Millisecond {
		t.Errorf("AvgResponseTime = %s, want 200ms", got)
	}
	// Failures leave the average untouched.
	RecordOutcome(ep, false, 15*time.Second, "timeout")
	if got := ep.Health.AvgResponseTime; got != 200*time.Millisecond {
		t.Errorf("AvgResponseTime after failure = %s, want 200ms", got)
	}
}

func TestRecordOutcomeCircuitBreaker(t *testing.T) {
	cfg := endpoint.DefaultConfig()
	cfg.MaxAttempts = 3
	ep := &endpoint.Endpoint{Status: endpoint.StatusActive, Config: cfg}

	var suspended bool
	for i := 0; i < 2*cfg.MaxAttempts; i++ {
		if suspended {
			t.Fatalf("suspended after %d failures, want exactly %d", i, 2*cfg.MaxAttempts)
		}
		suspended = RecordOutcome(ep, false, time.Second, "connection refused")
	}
	if !suspended {
		t.Fatal("endpoint not suspended after 2*maxAttempts consecutive failures")
	}
	if ep.Status != endpoint.StatusSuspended {
		t.Errorf("Status = %s, want suspended", ep.Status)
	}
	if ep.Health.Healthy {
		t.Error("suspended endpoint reported healthy")
	}
}
