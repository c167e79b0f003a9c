package metrics

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_None(t *testing.T) {
	p, err := NewProvider(context.Background(), Options{Exporter: "none"})
	require.NoError(t, err)

	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_StdoutFlushesOnShutdown(t *testing.T) {
	// Arrange
	ctx := context.Background()
	var buf bytes.Buffer
	p, err := NewProvider(ctx, Options{Exporter: "stdout", Writer: &buf, ServiceName: "exam-pool-test"})
	require.NoError(t, err)

	counter, err := p.Meter().Int64Counter("exampool.test.requests")
	require.NoError(t, err)

	// Act
	counter.Add(ctx, 3)
	require.NoError(t, p.Shutdown(ctx))

	// Assert
	assert.Contains(t, buf.String(), "exampool.test.requests")
}

func TestNewProvider_Errors(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	_, err := NewProvider(context.Background(), Options{Exporter: "prometheus"})
	assert.Error(t, err, "неизвестный экспортер")

	_, err = NewProvider(context.Background(), Options{Exporter: "otlp"})
	assert.Error(t, err, "otlp без адреса")
}
