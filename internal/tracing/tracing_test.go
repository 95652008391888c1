package tracing

import (
	"context"
	"testing"
)

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty without an active span", id)
	}
}

func TestPropagateExtractRoundTrip(t *testing.T) {
	// Without a recording span the carrier stays empty, but the round trip
	// must not panic and must return a usable context.
	ctx := context.Background()
	headers := PropagateTrace(ctx)
	out := ExtractTrace(ctx, headers)
	if out == nil {
		t.Fatal("ExtractTrace returned nil context")
	}
}

func TestOTLPEndpointStripsScheme(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	if got := otlpEndpoint(); got != "collector:4318" {
		t.Errorf("otlpEndpoint() = %q, want collector:4318", got)
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := otlpEndpoint(); got != "localhost:4318" {
		t.Errorf("otlpEndpoint() default = %q", got)
	}
}
