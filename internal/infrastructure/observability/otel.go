package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
)

const instrumentationName = "github.com/zatekoja/waitingtimes"

// Setup installs OTLP trace and metric exporters as the global providers.
// The returned function flushes and stops both.
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	return shutdown, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// IngestionMetrics counts ingestion outcomes. Without an installed meter
// provider the instruments are no-ops.
type IngestionMetrics struct {
	Jobs         metric.Int64Counter
	RowsInserted metric.Int64Counter
}

// NewIngestionMetrics creates the ingestion instruments on the global meter
func NewIngestionMetrics() (*IngestionMetrics, error) {
	meter := otel.Meter(instrumentationName)

	jobs, err := meter.Int64Counter(
		"ingestion.jobs",
		metric.WithDescription("Number of ingestion attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	rows, err := meter.Int64Counter(
		"ingestion.rows.inserted",
		metric.WithDescription("Number of rows inserted by entity"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestionMetrics{Jobs: jobs, RowsInserted: rows}, nil
}

// RecordOutcome counts one ingestion attempt
func (m *IngestionMetrics) RecordOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReport counts the rows a successful ingestion inserted
func (m *IngestionMetrics) RecordReport(ctx context.Context, report *entities.Report) {
	if m == nil || report == nil {
		return
	}
	for entity, count := range map[string]entities.Count{
		"jobs":             report.Counts.Jobs,
		"procedures":       report.Counts.Procedures,
		"institutions":     report.Counts.Institutions,
		"max_allowed_days": report.Counts.MaxAllowedDays,
		"waiting_periods":  report.Counts.WaitingPeriods,
	} {
		m.RowsInserted.Add(ctx, int64(count.Inserted), metric.WithAttributes(attribute.String("entity", entity)))
	}
}
