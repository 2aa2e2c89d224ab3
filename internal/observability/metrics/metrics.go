package metrics

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the escrow domain counters exported over OTLP.
type Metrics struct {
	webhookEvents      metric.Int64Counter
	paymentTransitions metric.Int64Counter
	walletEntries      metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

type counterSpec struct {
	dst  *metric.Int64Counter
	name string
	desc string
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "escrow"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	specs := []counterSpec{
		{&m.webhookEvents, "escrow_webhook_events_total", "Provider callbacks by provider, event and outcome."},
		{&m.paymentTransitions, "escrow_payment_transitions_total", "Escrow status changes by from and to status."},
		{&m.walletEntries, "escrow_wallet_entries_total", "Wallet journal entries by type and currency."},
		{&m.rateLimitDecisions, "escrow_rate_limit_decisions_total", "Webhook rate limiter decisions."},
	}
	for _, spec := range specs {
		counter, err := meter.Int64Counter(spec.name, metric.WithDescription(spec.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		*spec.dst = counter
	}
	return m, nil
}

// RecordWebhookEvent counts provider callbacks by outcome (processed, not_found, failed).
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, labels(
		"provider", provider,
		"event_type", eventType,
		"outcome", outcome,
	))
}

func (m *Metrics) RecordPaymentTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitions.Add(ctx, 1, labels("from", from, "to", to))
}

// RecordWalletCredit counts journal entries; amounts stay out of metrics.
func (m *Metrics) RecordWalletCredit(ctx context.Context, entryType, currency string) {
	if m == nil {
		return
	}
	m.walletEntries.Add(ctx, 1, labels("entry_type", entryType, "currency", currency))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, labels("endpoint", endpoint, "outcome", "allowed"))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, labels("endpoint", endpoint, "outcome", "denied", "reason", reason))
}

// labels builds filtered attributes from key/value pairs.
func labels(kv ...string) metric.AddOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], strings.TrimSpace(kv[i+1])))
	}
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"from":        {},
	"to":          {},
	"entry_type":  {},
	"currency":    {},
	"reason":      {},
}

// FilterAttributes keeps only low-cardinality labels. Provider refs, ids and
// amounts never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
