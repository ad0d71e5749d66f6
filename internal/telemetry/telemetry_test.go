package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hpungsan/pulse/internal/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.Suggestion(ctx, "threshold")
	rec.Suggestion(ctx, "threshold")
	rec.Suggestion(ctx, "force")
	rec.Outcome(ctx, "completed", "breathing")
	rec.CoachFallback(ctx, "error")
	rec.SmoothedStress(ctx, 24.39)

	got := collect(t, reader)

	sugg, ok := got["pulse_suggestions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byTrigger := map[string]int64{}
	for _, dp := range sugg.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("trigger"))
		byTrigger[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"threshold": 2, "force": 1}, byTrigger)

	outcomes, ok := got["pulse_outcomes_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, outcomes.DataPoints, 1)
	variant, _ := outcomes.DataPoints[0].Attributes.Value(attribute.Key("variant"))
	assert.Equal(t, "breathing", variant.AsString())

	hist, ok := got["pulse_smoothed_stress"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	assert.Contains(t, got, "pulse_coach_fallbacks_total")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	ctx := context.Background()
	assert.NotPanics(t, func() {
		rec.Suggestion(ctx, "force")
		rec.Outcome(ctx, "skipped", "stretch")
		rec.CoachFallback(ctx, "timeout")
		rec.SmoothedStress(ctx, 1)
	})
}

func TestSetup_Disabled(t *testing.T) {
	rec, shutdown, err := Setup(context.Background(), config.MetricsConfig{}, "test")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_EnabledWithoutEndpoint(t *testing.T) {
	_, shutdown, err := Setup(context.Background(), config.MetricsConfig{Enabled: true}, "test")
	assert.Error(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
