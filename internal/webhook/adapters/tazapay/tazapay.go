package tazapay

import (
	"encoding/json"
	"strings"

	"github.com/stackin/escrow/internal/webhook/adapters"
	"github.com/stackin/escrow/internal/webhook/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "TAZAPAY"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{secret: secret}, nil
}

type Adapter struct {
	secret string
}

type tazapayEvent struct {
	Event       string `json:"event"`
	Type        string `json:"type"`
	ProviderRef string `json:"provider_ref"`
	ReferenceID string `json:"reference_id"`
}

// eventAliases maps the provider's event names, after lower-casing, onto the
// platform's.
var eventAliases = map[string]string{
	"authorized":         domain.EventAuthorized,
	"payment.authorized": domain.EventAuthorized,
	"payment.succeeded":  domain.EventAuthorized,
	"checkout.paid":      domain.EventAuthorized,
	"canceled":           domain.EventCanceled,
	"cancelled":          domain.EventCanceled,
	"payment.canceled":   domain.EventCanceled,
	"payment.cancelled":  domain.EventCanceled,
	"checkout.cancelled": domain.EventCanceled,
	"expired":            domain.EventExpired,
	"checkout.expired":   domain.EventExpired,
	"payment.expired":    domain.EventExpired,
}

func (a *Adapter) Verify(payload []byte, signature string) error {
	return adapters.VerifyHex(a.secret, payload, signature)
}

func (a *Adapter) Parse(payload []byte) (*domain.Envelope, error) {
	var body tazapayEvent
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	ref := strings.TrimSpace(body.ProviderRef)
	if ref == "" {
		ref = strings.TrimSpace(body.ReferenceID)
	}
	name := strings.TrimSpace(body.Event)
	if name == "" {
		name = strings.TrimSpace(body.Type)
	}

	return &domain.Envelope{
		Provider:    "TAZAPAY",
		Event:       normalizeEvent(name),
		ProviderRef: ref,
	}, nil
}

func normalizeEvent(name string) string {
	if name == "" {
		return domain.EventUnknown
	}
	if event, ok := eventAliases[strings.ToLower(name)]; ok {
		return event
	}
	return strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}
