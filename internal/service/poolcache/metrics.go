package poolcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/yourusername/exam-pool/poolcache"

// Значения атрибута result для exampool.requests
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultError  = "error"
	resultDenied = "denied"
)

// engineMetrics - инструменты OpenTelemetry движка
type engineMetrics struct {
	requests         metric.Int64Counter
	builds           metric.Int64Counter
	buildDuration    metric.Float64Histogram
	evictions        metric.Int64Counter
	repetitionDenied metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	requests, err := meter.Int64Counter(
		"exampool.requests",
		metric.WithDescription("Pool requests by tier and result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	builds, err := meter.Int64Counter(
		"exampool.builds",
		metric.WithDescription("Pool builds by tier"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildDuration, err := meter.Float64Histogram(
		"exampool.build.duration_ms",
		metric.WithDescription("Pool build duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"exampool.evictions",
		metric.WithDescription("Capacity evictions by tier"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	repetitionDenied, err := meter.Int64Counter(
		"exampool.repetition.denied",
		metric.WithDescription("Repetitions refused because the limit was reached"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &engineMetrics{
		requests:         requests,
		builds:           builds,
		buildDuration:    buildDuration,
		evictions:        evictions,
		repetitionDenied: repetitionDenied,
	}, nil
}

func (m *engineMetrics) request(ctx context.Context, tier, result string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

func (m *engineMetrics) build(ctx context.Context, tier string, elapsed time.Duration) {
	opt := metric.WithAttributes(attribute.String("tier", tier))
	m.builds.Add(ctx, 1, opt)
	m.buildDuration.Record(ctx, float64(elapsed.Milliseconds()), opt)
}

// eviction вызывается из арены под её мьютексом, контекста там нет
func (m *engineMetrics) eviction(tier string) {
	m.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (m *engineMetrics) denied(ctx context.Context) {
	m.repetitionDenied.Add(ctx, 1)
}
