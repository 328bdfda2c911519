package observability_test

import (
	"context"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/id"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/observability"
)

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithProvider(mp), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:        id.NewJobID().String(),
		OwnerHash: "owner-1",
		Service:   "billing",
		TargetFn:  "chargeInvoice",
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobCreated(t *testing.T) {
	e, reader := newTestExtension(t)
	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "differential.job.created"); got != 1 {
		t.Errorf("job.created: want 1, got %d", got)
	}
}

func TestMetricsExtension_PredictorVerdict(t *testing.T) {
	e, reader := newTestExtension(t)
	if err := e.OnPredictorVerdict(context.Background(), newTestJob(), true, "connection reset"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnPredictorVerdict(context.Background(), newTestJob(), false, "invalid input"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "differential.predictor.verdicts"); got != 2 {
		t.Errorf("predictor.verdicts: want 2, got %d", got)
	}
}

func TestMetricsExtension_MachineSeen(t *testing.T) {
	e, reader := newTestExtension(t)
	m := &machine.Machine{ID: "mach-abc", OwnerHash: "owner-1"}
	if err := e.OnMachineSeen(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "differential.machine.seen"); got != 1 {
		t.Errorf("machine.seen: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension(t)

	reg := hook.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobReceived(ctx, j)
	reg.EmitJobResulted(ctx, j)
	reg.EmitJobStalled(ctx, j)
	reg.EmitJobRecovered(ctx, j)
	reg.EmitPredictorVerdict(ctx, j, true, "timeout")
	reg.EmitMachineSeen(ctx, &machine.Machine{ID: "mach-abc", OwnerHash: "owner-1"})

	checks := []struct {
		name string
	}{
		{"differential.job.created"},
		{"differential.job.received"},
		{"differential.job.resulted"},
		{"differential.job.stalled"},
		{"differential.job.recovered"},
		{"differential.predictor.verdicts"},
		{"differential.machine.seen"},
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			byName[m.Name] = m
		}
	}

	for _, c := range checks {
		m, ok := byName[c.name]
		if !ok {
			t.Errorf("%s: no datapoints recorded", c.name)
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("%s: unexpected data type %T", c.name, m.Data)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != 1 {
			t.Errorf("%s: want 1, got %d", c.name, total)
		}
	}
}
