// Package telemetry wires OpenTelemetry tracing and counters for chat sessions.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chatroom/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	instrumentationName = "chatroom"
	exportInterval      = 10 * time.Second
)

// Telemetry owns the tracer and meter providers for one process.
type Telemetry struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown []func(context.Context) error
}

// Noop returns telemetry that records nothing.
func Noop() *Telemetry {
	return &Telemetry{
		Tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		Meter:  metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
}

// Setup installs file-backed exporters when telemetry is enabled, otherwise a no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	log := slog.Default().With("component", "telemetry")

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = instrumentationName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceFile, err := rotatingFile(cfg.TracesFile, "chatroom_traces.log")
	if err != nil {
		return nil, err
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile, err := rotatingFile(cfg.MetricsFile, "chatroom_metrics.log")
	if err != nil {
		return nil, err
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	log.Debug("Telemetry enabled", "service", serviceName)

	return &Telemetry{
		Tracer: tp.Tracer(instrumentationName),
		Meter:  mp.Meter(instrumentationName),
		shutdown: []func(context.Context) error{
			tp.Shutdown,
			mp.Shutdown,
			closer(traceFile),
			closer(metricsFile),
		},
	}, nil
}

// Close flushes exporters and closes their files.
func (t *Telemetry) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil

	return errors.Join(errs...)
}

func rotatingFile(path string, fallback string) (*lumberjack.Logger, error) {
	if path == "" {
		path = filepath.Join("logs", fallback)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

func closer(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

// Recorder counts chat interactions. A nil Recorder records nothing.
type Recorder struct {
	messagesSent   metric.Int64Counter
	buttonClicks   metric.Int64Counter
	uploads        metric.Int64Counter
	backendErrors  metric.Int64Counter
	backendLatency metric.Float64Histogram
}

// NewRecorder registers the chat instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		return nil, errors.New("meter is required")
	}

	var (
		r   Recorder
		err error
	)
	if r.messagesSent, err = meter.Int64Counter("chat-message-sent", metric.WithDescription("Messages sent to the backend")); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if r.buttonClicks, err = meter.Int64Counter("chat-button-click", metric.WithDescription("Buttons clicked by the user")); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if r.uploads, err = meter.Int64Counter("chat-upload", metric.WithDescription("File uploads by outcome")); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if r.backendErrors, err = meter.Int64Counter("chat-backend-error", metric.WithDescription("Failed backend calls by category")); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if r.backendLatency, err = meter.Float64Histogram("chat-backend-latency", metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create histogram: %w", err)
	}

	return &r, nil
}

func (r *Recorder) MessageSent(ctx context.Context) {
	if r == nil {
		return
	}
	r.messagesSent.Add(ctx, 1)
}

func (r *Recorder) ButtonClicked(ctx context.Context) {
	if r == nil {
		return
	}
	r.buttonClicks.Add(ctx, 1)
}

func (r *Recorder) Upload(ctx context.Context, ok bool) {
	if r == nil {
		return
	}
	r.uploads.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
}

func (r *Recorder) BackendError(ctx context.Context, operation string, category string) {
	if r == nil {
		return
	}
	r.backendErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("category", category),
	))
}

func (r *Recorder) BackendLatency(ctx context.Context, operation string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.backendLatency.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("operation", operation)))
}
