package metric

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	sidecarWaitHistogram   otelmetric.Float64Histogram
	childDurationHistogram otelmetric.Float64Histogram
	shutdownActionsCounter otelmetric.Float64Counter
	watchReconnectsCounter otelmetric.Float64Counter
)

// InitOTelMetrics creates OTel instruments for the supervisor's core
// metrics. Recording functions are no-ops until this has been called.
func InitOTelMetrics() {
	meter := otel.Meter("proa")

	h, err := meter.Float64Histogram(
		"proa.sidecar.wait_duration",
		otelmetric.WithDescription("Time spent waiting for sidecars to become ready in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err == nil {
		sidecarWaitHistogram = h
	}

	h, err = meter.Float64Histogram(
		"proa.child.duration",
		otelmetric.WithDescription("Wall-clock duration of the wrapped command in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err == nil {
		childDurationHistogram = h
	}

	c, err := meter.Float64Counter(
		"proa.shutdown.actions",
		otelmetric.WithDescription("Number of shutdown actions executed, by outcome"),
	)
	if err == nil {
		shutdownActionsCounter = c
	}

	c, err = meter.Float64Counter(
		"proa.watch.reconnects",
		otelmetric.WithDescription("Number of pod watch re-establishments"),
	)
	if err == nil {
		watchReconnectsCounter = c
	}
}

// RecordSidecarWaitDuration records how long the supervisor waited for
// sidecars to settle before launching the wrapped command.
func RecordSidecarWaitDuration(ctx context.Context, duration time.Duration) {
	if sidecarWaitHistogram == nil {
		return
	}
	sidecarWaitHistogram.Record(ctx, duration.Seconds())
}

// RecordChildDuration records the wrapped command's run time and exit code.
func RecordChildDuration(ctx context.Context, duration time.Duration, exitCode int) {
	if childDurationHistogram == nil {
		return
	}
	childDurationHistogram.Record(ctx, duration.Seconds(),
		otelmetric.WithAttributes(
			attribute.Int("child.exit_code", exitCode),
		),
	)
}

// RecordShutdownAction records one shutdown action outcome.
func RecordShutdownAction(ctx context.Context, action string, succeeded bool) {
	if shutdownActionsCounter == nil {
		return
	}
	shutdownActionsCounter.Add(ctx, 1,
		otelmetric.WithAttributes(
			attribute.String("action", action),
			attribute.Bool("succeeded", succeeded),
		),
	)
}

// RecordWatchReconnect counts one pod watch re-establishment.
func RecordWatchReconnect(ctx context.Context) {
	if watchReconnectsCounter == nil {
		return
	}
	watchReconnectsCounter.Add(ctx, 1)
}
