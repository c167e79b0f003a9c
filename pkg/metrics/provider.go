// Package metrics создаёт MeterProvider OpenTelemetry для движка пулов.
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options - параметры экспорта метрик
type Options struct {
	// Exporter: "none", "stdout", "otlp"
	Exporter    string
	Endpoint    string // для otlp; пусто - из OTEL_EXPORTER_OTLP_ENDPOINT
	ServiceName string
	Version     string
	Writer      io.Writer // для stdout; nil - os.Stdout
}

// Provider владеет MeterProvider и отдаёт Meter сервиса
type Provider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

// NewProvider создаёт провайдер по имени экспортера. "none" - noop без SDK.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "exam-pool"
	}

	reader, err := newReader(ctx, opts)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return &Provider{meter: noop.NewMeterProvider().Meter(opts.ServiceName)}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	return &Provider{mp: mp, meter: mp.Meter(opts.ServiceName)}, nil
}

func newReader(ctx context.Context, opts Options) (sdkmetric.Reader, error) {
	switch opts.Exporter {
	case "none", "":
		return nil, nil

	case "stdout":
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		var grpcOpts []otlpmetricgrpc.Option
		switch {
		case strings.Contains(opts.Endpoint, "://"):
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpoint(opts.Endpoint))
		case os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "":
			return nil, fmt.Errorf("OTLP metrics endpoint not configured: set telemetry.otlp_endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		exp, err := otlpmetricgrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", opts.Exporter)
	}
}

func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown выгружает накопленные метрики и останавливает экспорт
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.mp == nil {
		return nil
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter shutdown: %w", err)
	}
	return nil
}
