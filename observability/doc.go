// Package observability provides an OpenTelemetry metrics extension for
// the control plane. MetricsExtension implements the lifecycle hooks and
// records counters for admissions, claims, results, stalls, recoveries,
// classifier verdicts, and machine heartbeats.
package observability
