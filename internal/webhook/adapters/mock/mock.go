package mock

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
	return "MOCK"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	provider := strings.ToUpper(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = f.Provider()
	}
	return &Adapter{provider: provider, secret: cfg.Secret}, nil
}

// Adapter reads the platform's own envelope as-is. It also serves providers
// that have no dedicated adapter.
type Adapter struct {
	provider string
	secret   string
}

func (a *Adapter) Verify(payload []byte, signature string) error {
	return adapters.VerifyHex(a.secret, payload, signature)
}

func (a *Adapter) Parse(payload []byte) (*domain.Envelope, error) {
	var body struct {
		Event       string `json:"event"`
		ProviderRef string `json:"provider_ref"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	event := strings.ToUpper(strings.TrimSpace(body.Event))
	if event == "" {
		event = domain.EventUnknown
	}
	return &domain.Envelope{
		Provider:    a.provider,
		Event:       event,
		ProviderRef: strings.TrimSpace(body.ProviderRef),
	}, nil
}
