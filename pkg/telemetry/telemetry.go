// Package telemetry installs the global OpenTelemetry providers. Spans come
// from the otelgin middleware on the HTTP server.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Options selects the exporters to install.
type Options struct {
	Tracing bool
	Metrics bool
	// Writer receives exported data. Defaults to stdout.
	Writer io.Writer
}

// Setup installs the propagator and the requested providers. The returned
// shutdown flushes and stops them; it is safe to call when nothing was enabled.
func Setup(opts Options) (func(context.Context) error, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if opts.Tracing {
		tp, err := newTracerProvider(w)
		if err != nil {
			return shutdown, errors.Join(err, shutdown(context.Background()))
		}
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if opts.Metrics {
		mp, err := newMeterProvider(w)
		if err != nil {
			return shutdown, errors.Join(err, shutdown(context.Background()))
		}
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	return shutdown, nil
}

func newTracerProvider(w io.Writer) (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(trace.WithBatcher(exporter)), nil
}

func newMeterProvider(w io.Writer) (*metric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exporter))), nil
}
