package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/elmpack"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Plan metrics
	PlansResolvedTotal metric.Int64Counter

	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram
	OutputBytes      metric.Int64Counter

	// Dev server metrics
	ReloadStreams         metric.Int64UpDownCounter
	ReloadsBroadcastTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.PlansResolvedTotal, _ = meter.Int64Counter(
		"elmpack.plans.resolved.total",
		metric.WithDescription("Total number of build plans resolved"),
		metric.WithUnit("{plan}"),
	)

	m.BuildsTotal, _ = meter.Int64Counter(
		"elmpack.builds.total",
		metric.WithDescription("Total number of builds, including watch rebuilds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"elmpack.builds.errors.total",
		metric.WithDescription("Total number of failed builds"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"elmpack.builds.duration",
		metric.WithDescription("Duration of builds"),
		metric.WithUnit("ms"),
	)

	m.OutputBytes, _ = meter.Int64Counter(
		"elmpack.build.output.bytes",
		metric.WithDescription("Total bytes of build output written"),
		metric.WithUnit("By"),
	)

	m.ReloadStreams, _ = meter.Int64UpDownCounter(
		"elmpack.devserver.reload_streams.active",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{stream}"),
	)

	m.ReloadsBroadcastTotal, _ = meter.Int64Counter(
		"elmpack.devserver.reloads.total",
		metric.WithDescription("Total number of reload events broadcast to clients"),
		metric.WithUnit("{event}"),
	)

	return m
}
