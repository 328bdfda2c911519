package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*MetricsExtension)(nil)
	_ hook.JobCreated       = (*MetricsExtension)(nil)
	_ hook.JobReceived      = (*MetricsExtension)(nil)
	_ hook.JobResulted      = (*MetricsExtension)(nil)
	_ hook.JobStalled       = (*MetricsExtension)(nil)
	_ hook.JobRecovered     = (*MetricsExtension)(nil)
	_ hook.PredictorVerdict = (*MetricsExtension)(nil)
	_ hook.MachineSeen      = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters. Register it on the hook
// registry to track admission rates, claim throughput, result outcomes,
// sweeper repairs, classifier verdicts, and heartbeat volume.
type MetricsExtension struct {
	jobCreated        metric.Int64Counter
	jobReceived       metric.Int64Counter
	jobResulted       metric.Int64Counter
	jobStalled        metric.Int64Counter
	jobRecovered      metric.Int64Counter
	predictorVerdicts metric.Int64Counter
	machineSeen       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithProvider(otel.GetMeterProvider())
}

// NewMetricsExtensionWithProvider creates a MetricsExtension with the
// provided meter provider, for embedding hosts that manage their own
// OTel pipeline.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) *MetricsExtension {
	meter := mp.Meter("differential/observability")
	m := &MetricsExtension{}
	m.jobCreated, _ = meter.Int64Counter("differential.job.created")
	m.jobReceived, _ = meter.Int64Counter("differential.job.received")
	m.jobResulted, _ = meter.Int64Counter("differential.job.resulted")
	m.jobStalled, _ = meter.Int64Counter("differential.job.stalled")
	m.jobRecovered, _ = meter.Int64Counter("differential.job.recovered")
	m.predictorVerdicts, _ = meter.Int64Counter("differential.predictor.verdicts")
	m.machineSeen, _ = meter.Int64Counter("differential.machine.seen")
	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements hook.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.jobCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("service", j.Service)))
	return nil
}

// OnJobReceived implements hook.JobReceived.
func (m *MetricsExtension) OnJobReceived(ctx context.Context, j *job.Job) error {
	m.jobReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("service", j.Service)))
	return nil
}

// OnJobResulted implements hook.JobResulted.
func (m *MetricsExtension) OnJobResulted(ctx context.Context, j *job.Job) error {
	m.jobResulted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", j.Service),
		attribute.String("result_type", string(j.ResultType)),
	))
	return nil
}

// OnJobStalled implements hook.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.jobStalled.Add(ctx, 1, metric.WithAttributes(attribute.String("service", j.Service)))
	return nil
}

// OnJobRecovered implements hook.JobRecovered.
func (m *MetricsExtension) OnJobRecovered(ctx context.Context, j *job.Job) error {
	m.jobRecovered.Add(ctx, 1, metric.WithAttributes(attribute.String("service", j.Service)))
	return nil
}

// OnPredictorVerdict implements hook.PredictorVerdict.
func (m *MetricsExtension) OnPredictorVerdict(ctx context.Context, j *job.Job, retryable bool, _ string) error {
	m.predictorVerdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", j.Service),
		attribute.Bool("retryable", retryable),
	))
	return nil
}

// ── Machine lifecycle hooks ─────────────────────────

// OnMachineSeen implements hook.MachineSeen.
func (m *MetricsExtension) OnMachineSeen(ctx context.Context, mach *machine.Machine) error {
	m.machineSeen.Add(ctx, 1, metric.WithAttributes(attribute.String("machine_id", mach.ID)))
	return nil
}
