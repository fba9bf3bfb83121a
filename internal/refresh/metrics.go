package refresh

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationScope = "github.com/pgschema/pgmatview/internal/refresh"

type metrics struct {
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationScope)
	}

	count, err := meter.Int64Counter("matview.refresh.count",
		metric.WithDescription("Materialized view refresh attempts"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("matview.refresh.duration",
		metric.WithDescription("Materialized view refresh duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{count: count, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, view string, concurrent, failed bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("view", view),
		attribute.Bool("concurrent", concurrent),
		attribute.Bool("failed", failed),
	)
	m.count.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
