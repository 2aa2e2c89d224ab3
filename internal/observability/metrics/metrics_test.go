package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "MOCK"),
		attribute.String("provider_ref", "mock_01H"),
		attribute.String("event_type", "AUTHORIZED"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("provider"), attrs[0].Key)
	assert.Equal(t, attribute.Key("event_type"), attrs[1].Key)
}

func TestRecordMethodsAreNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordWebhookEvent(ctx, "MOCK", "AUTHORIZED", "processed")
		m.RecordPaymentTransition(ctx, "HELD", "RELEASED")
		m.RecordWalletCredit(ctx, "ESCROW_RELEASE", "VND")
		m.RecordRateLimitAllowed(ctx, "webhook")
		m.RecordRateLimitDenied(ctx, "webhook", "exhausted")
	})
}

func TestRateLimitDecisionsShareOneCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "escrow-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRateLimitAllowed(ctx, "webhook")
	m.RecordRateLimitAllowed(ctx, "webhook")
	m.RecordRateLimitDenied(ctx, "webhook", "provider_bucket")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != "escrow_rate_limit_decisions_total" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, point := range sum.DataPoints {
				outcome, _ := point.Attributes.Value("outcome")
				totals[outcome.AsString()] += point.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"allowed": 2, "denied": 1}, totals)
}
