package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"chatroom/pkg/config"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	tel, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.NoError(t, tel.Close(context.Background()))
}

func TestSetupEnabledWritesToFiles(t *testing.T) {
	dir := t.TempDir()
	tel, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:     true,
		MetricsFile: filepath.Join(dir, "metrics.log"),
		TracesFile:  filepath.Join(dir, "traces.log"),
	})
	require.NoError(t, err)

	_, span := tel.Tracer.Start(context.Background(), "test")
	span.End()

	require.NoError(t, tel.Close(context.Background()))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.MessageSent(context.Background())
	r.ButtonClicked(context.Background())
	r.Upload(context.Background(), true)
	r.BackendError(context.Background(), "send", "network_failure")
	r.BackendLatency(context.Background(), "send", 0)
}

func TestRecorderCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	r.MessageSent(ctx)
	r.MessageSent(ctx)
	r.ButtonClicked(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[m.Name] += point.Value
			}
		}
	}

	require.Equal(t, int64(2), totals["chat-message-sent"])
	require.Equal(t, int64(1), totals["chat-button-click"])
}
