// Package telemetry records pulse metrics through OpenTelemetry and
// optionally exports them to an OTLP collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hpungsan/pulse/internal/config"
)

const serviceName = "pulse"

// Recorder records machine metrics. A nil *Recorder discards everything.
type Recorder struct {
	suggestions metric.Int64Counter
	outcomes    metric.Int64Counter
	fallbacks   metric.Int64Counter
	stress      metric.Float64Histogram
}

// NewRecorder creates the pulse instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	suggestions, err := meter.Int64Counter(
		"pulse_suggestions_total",
		metric.WithDescription("Suggestions raised, by trigger"),
		metric.WithUnit("{suggestion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating suggestions counter: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		"pulse_outcomes_total",
		metric.WithDescription("Break outcomes, by outcome and variant"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating outcomes counter: %w", err)
	}

	fallbacks, err := meter.Int64Counter(
		"pulse_coach_fallbacks_total",
		metric.WithDescription("Coaching messages replaced by fallback text"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fallbacks counter: %w", err)
	}

	stress, err := meter.Float64Histogram(
		"pulse_smoothed_stress",
		metric.WithDescription("Smoothed stress value after each sample"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stress histogram: %w", err)
	}

	return &Recorder{
		suggestions: suggestions,
		outcomes:    outcomes,
		fallbacks:   fallbacks,
		stress:      stress,
	}, nil
}

// Noop returns a Recorder backed by the no-op meter.
func Noop() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider().Meter(serviceName))
	return r
}

// Suggestion counts a raised suggestion. trigger is "threshold" or "force".
func (r *Recorder) Suggestion(ctx context.Context, trigger string) {
	if r == nil {
		return
	}
	r.suggestions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// Outcome counts a break outcome.
func (r *Recorder) Outcome(ctx context.Context, outcome, variant string) {
	if r == nil {
		return
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("variant", variant),
	))
}

// CoachFallback counts a coaching message replaced by fallback text.
func (r *Recorder) CoachFallback(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SmoothedStress records the smoothed value after a sample.
func (r *Recorder) SmoothedStress(ctx context.Context, v float64) {
	if r == nil {
		return
	}
	r.stress.Record(ctx, v)
}

// Setup builds a Recorder. When metrics are disabled it returns a no-op
// Recorder and a no-op shutdown. Otherwise metrics are pushed to the OTLP
// gRPC endpoint until shutdown is called.
func Setup(ctx context.Context, cfg config.MetricsConfig, version string) (*Recorder, func(context.Context) error, error) {
	nop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return Noop(), nop, nil
	}
	if cfg.Endpoint == "" {
		return nil, nop, fmt.Errorf("metrics enabled but endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nop, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nop, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	rec, err := NewRecorder(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nop, err
	}
	return rec, provider.Shutdown, nil
}
