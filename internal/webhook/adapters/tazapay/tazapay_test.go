package tazapay

import (
	"errors"
	"testing"

	"github.com/stackin/escrow/internal/webhook/adapters"
	"github.com/stackin/escrow/internal/webhook/domain"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"provider":"TAZAPAY","event":"payment.authorized","reference_id":"tz_1"}`)
	adapter := &Adapter{secret: "tz-secret"}

	if err := adapter.Verify(payload, adapters.Sign("tz-secret", payload)); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}
	if err := adapter.Verify(payload, adapters.Sign("other", payload)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if err := adapter.Verify(payload, ""); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for empty header, got %v", err)
	}
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(domain.AdapterConfig{Provider: "TAZAPAY"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestParseNormalizesEvents(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantEvent string
		wantRef   string
	}{
		{
			name:      "dotted authorized with reference id",
			payload:   `{"event":"payment.authorized","reference_id":"tz_1"}`,
			wantEvent: domain.EventAuthorized,
			wantRef:   "tz_1",
		},
		{
			name:      "provider ref wins over reference id",
			payload:   `{"event":"AUTHORIZED","provider_ref":"tz_2","reference_id":"tz_old"}`,
			wantEvent: domain.EventAuthorized,
			wantRef:   "tz_2",
		},
		{
			name:      "type field and expired alias",
			payload:   `{"type":"checkout.expired","provider_ref":"tz_3"}`,
			wantEvent: domain.EventExpired,
			wantRef:   "tz_3",
		},
		{
			name:      "british cancelled",
			payload:   `{"event":"cancelled","provider_ref":"tz_4"}`,
			wantEvent: domain.EventCanceled,
			wantRef:   "tz_4",
		},
		{
			name:      "unrecognized event kept",
			payload:   `{"event":"payout.settled","provider_ref":"tz_5"}`,
			wantEvent: "PAYOUT_SETTLED",
			wantRef:   "tz_5",
		},
		{
			name:      "missing event",
			payload:   `{"provider_ref":"tz_6"}`,
			wantEvent: domain.EventUnknown,
			wantRef:   "tz_6",
		},
	}

	adapter := &Adapter{secret: "tz-secret"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := adapter.Parse([]byte(tt.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if env.Provider != "TAZAPAY" {
				t.Fatalf("expected provider TAZAPAY, got %s", env.Provider)
			}
			if env.Event != tt.wantEvent {
				t.Fatalf("expected event %s, got %s", tt.wantEvent, env.Event)
			}
			if env.ProviderRef != tt.wantRef {
				t.Fatalf("expected ref %s, got %s", tt.wantRef, env.ProviderRef)
			}
		})
	}
}

func TestParseRejectsMalformedBody(t *testing.T) {
	adapter := &Adapter{secret: "tz-secret"}
	if _, err := adapter.Parse([]byte(`not json`)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}
