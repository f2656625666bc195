package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	if err != nil {
		t.Fatalf("Failed to setup telemetry: %v", err)
	}

	// Verify providers are set
	if otel.GetTracerProvider() == nil {
		t.Error("Tracer provider not set")
	}
	if otel.GetMeterProvider() == nil {
		t.Error("Meter provider not set")
	}

	// Test GetTracer/GetMeter
	tracer := GetTracer("test-tracer")
	if tracer == nil {
		t.Error("Failed to get tracer")
	}

	meter := GetMeter("test-meter")
	if meter == nil {
		t.Error("Failed to get meter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInflightGauge(t *testing.T) {
	m := GetGlobalMetrics()

	m.IncInflight("eurex")
	m.IncInflight("eurex")
	m.DecInflight("eurex")

	snap := m.GetInflight()
	if snap["eurex"] != 1 {
		t.Errorf("expected 1 inflight for eurex, got %d", snap["eurex"])
	}

	m.DecInflight("eurex")
	m.DecInflight("eurex") // must not go negative
	snap = m.GetInflight()
	if snap["eurex"] != 0 {
		t.Errorf("expected 0 inflight for eurex, got %d", snap["eurex"])
	}
}
