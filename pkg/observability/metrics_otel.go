package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GuardInstruments mirrors the guard chain Prometheus series as OTLP
// instruments so decisions can be correlated with exported traces.
type GuardInstruments struct {
	decisions metric.Int64Counter
	denials   metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewGuardInstruments creates instruments on the global meter provider
func NewGuardInstruments() (*GuardInstruments, error) {
	return NewGuardInstrumentsWithMeter(otel.Meter(InstrumentationName))
}

// NewGuardInstrumentsWithMeter creates instruments on the given meter
func NewGuardInstrumentsWithMeter(meter metric.Meter) (*GuardInstruments, error) {
	g := &GuardInstruments{}
	var err error

	g.decisions, err = meter.Int64Counter(
		"warden.guard.decisions",
		metric.WithDescription("Guard chain evaluations by action and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard decisions counter: %w", err)
	}

	g.denials, err = meter.Int64Counter(
		"warden.guard.denials",
		metric.WithDescription("Denied requests by denial kind"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard denials counter: %w", err)
	}

	g.duration, err = meter.Float64Histogram(
		"warden.guard.duration",
		metric.WithDescription("Full guard chain evaluation time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard duration histogram: %w", err)
	}

	return g, nil
}

// RecordDecision records one evaluation. denialKind is empty when allowed.
func (g *GuardInstruments) RecordDecision(ctx context.Context, action, denialKind string, duration time.Duration) {
	if g == nil {
		return
	}

	outcome := "allowed"
	if denialKind != "" {
		outcome = "denied"
	}

	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	g.decisions.Add(ctx, 1, attrs)
	g.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("action", action)))

	if denialKind != "" {
		g.denials.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("kind", denialKind),
		))
	}
}
