package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMeter returns a Metrics instance backed by a manual reader so tests
// can collect recorded data points.
func newTestMeter(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func TestNewMetrics_InstrumentsUsable(t *testing.T) {
	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.TranslateDuration.Record(ctx, 0.42,
		metric.WithAttributes(attribute.String("provider", "openai"), attribute.String("target", "fr"), attribute.String("status", "ok")))
	m.PatchRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "stale_version")))
	m.ActiveRooms.Add(ctx, 1)
	m.ActiveRooms.Add(ctx, -1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("no scope metrics collected")
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	for _, want := range []string{"babelroom.translate.duration", "babelroom.patch.rejected", "babelroom.rooms.active"} {
		if !names[want] {
			t.Errorf("instrument %q not collected; got %v", want, names)
		}
	}
}
