package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/mailvault/sync-monitor/sync"

	// MonitorMetricsMeterName is the name used for the monitor metrics meter
	MonitorMetricsMeterName = "github.com/mailvault/sync-monitor/monitor"
)

// SyncMetrics holds the OpenTelemetry instruments for start-coordinator metrics
type SyncMetrics struct {
	startAttempts metric.Int64Counter
	sessionLength metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	startAttempts, err := meter.Int64Counter(
		"mv_sync_start_attempts_total",
		metric.WithDescription("Start coordinator attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	sessionLength, err := meter.Float64Histogram(
		"mv_sync_session_duration_seconds",
		metric.WithDescription("Duration of finished sync sessions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 60, 300, 900, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		startAttempts: startAttempts,
		sessionLength: sessionLength,
	}, nil
}

// RecordStartAttempt records a start-coordinator outcome (started, attached, failed)
func (m *SyncMetrics) RecordStartAttempt(ctx context.Context, syncType, outcome string) {
	if m == nil || m.startAttempts == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("sync_type", syncType),
		attribute.String("outcome", outcome),
	}

	m.startAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionDuration records how long a finished session ran
func (m *SyncMetrics) RecordSessionDuration(ctx context.Context, syncType string, duration time.Duration, outcome string) {
	if m == nil || m.sessionLength == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("sync_type", syncType),
		attribute.String("outcome", outcome),
	}

	m.sessionLength.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// MonitorMetrics holds the OpenTelemetry instruments for the real-time monitor
type MonitorMetrics struct {
	pollDuration metric.Float64Histogram
	pollErrors   metric.Int64Counter
}

// NewMonitorMetrics creates a new MonitorMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewMonitorMetrics(provider metric.MeterProvider) (*MonitorMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MonitorMetricsMeterName)

	pollDuration, err := meter.Float64Histogram(
		"mv_monitor_poll_duration_seconds",
		metric.WithDescription("Duration of slow-tick status polls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	pollErrors, err := meter.Int64Counter(
		"mv_monitor_poll_errors_total",
		metric.WithDescription("Slow-tick status polls that failed and were absorbed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &MonitorMetrics{
		pollDuration: pollDuration,
		pollErrors:   pollErrors,
	}, nil
}

// RecordPoll records the duration and outcome of a slow-tick poll
func (m *MonitorMetrics) RecordPoll(ctx context.Context, duration time.Duration, success bool) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	if m.pollDuration != nil {
		m.pollDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if !success && m.pollErrors != nil {
		m.pollErrors.Add(ctx, 1)
	}
}
