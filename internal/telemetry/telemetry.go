// Package telemetry installs the process logger and the metric provider.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitLogger installs a tint handler on stderr as the default slog logger.
func InitLogger(verbose bool) {
	slog.SetDefault(NewLogger(os.Stderr, verbose))
}

// NewLogger returns a tint logger writing to w. verbose enables debug records.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Telemetry owns the installed meter provider, if any.
type Telemetry struct {
	MeterProvider *metric.MeterProvider
}

// Shutdown flushes and stops the meter provider. It is safe on a zero Telemetry.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}

// Config selects the metric exporter.
type Config struct {
	// Endpoint is host:port or a full URL of an OTLP/HTTP collector.
	// Empty leaves the global no-op provider in place.
	Endpoint    string
	ServiceName string
	Interval    time.Duration
}

// Setup installs a global MeterProvider exporting over OTLP/HTTP.
func Setup(ctx context.Context, c Config) (Telemetry, error) {
	if c.Endpoint == "" {
		slog.Debug("metric export disabled")
		return Telemetry{}, nil
	}
	if c.ServiceName == "" {
		c.ServiceName = "pubpipe"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(c.ServiceName),
		),
	)
	if err != nil {
		return Telemetry{}, err
	}

	exportCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var opt otlpmetrichttp.Option
	if strings.Contains(c.Endpoint, "://") {
		opt = otlpmetrichttp.WithEndpointURL(c.Endpoint)
	} else {
		opt = otlpmetrichttp.WithEndpoint(c.Endpoint)
	}
	exporter, err := otlpmetrichttp.New(exportCtx, opt)
	if err != nil {
		return Telemetry{}, err
	}
	slog.Info("metric exporter initialized", "type", "http", "endpoint", c.Endpoint)

	provider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(c.Interval))),
		metric.WithResource(r),
	)
	otel.SetMeterProvider(provider)
	return Telemetry{MeterProvider: provider}, nil
}
