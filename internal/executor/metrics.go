package executor

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/clidesk/internal/executor"

// metrics records execution counts and latency through the global
// OpenTelemetry meter provider (a no-op unless one is installed).
type metrics struct {
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}

	var err error
	m.executions, err = meter.Int64Counter("clidesk.cli.executions",
		metric.WithDescription("CLI invocations by result code"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create executions counter")
	}
	m.duration, err = meter.Float64Histogram("clidesk.cli.duration",
		metric.WithDescription("CLI invocation wall-clock time"),
		metric.WithUnit("ms"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create duration histogram")
	}
	return m
}

func (m *metrics) record(ctx context.Context, res *Result) {
	code := "OK"
	if !res.Success {
		code = string(res.Code)
	}
	attrs := metric.WithAttributes(attribute.String("code", code))
	if m.executions != nil {
		m.executions.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(res.ExecutionTime), attrs)
	}
}
