package adapters

import (
	"strings"

	"github.com/stackin/escrow/internal/webhook/domain"
)

// Registry resolves provider adapters by provider code. Codes are matched
// case-insensitively.
type Registry struct {
	byCode   map[string]domain.AdapterFactory
	fallback string
}

// NewRegistry indexes the factories. Providers without a factory resolve to
// the MOCK envelope, the platform's own signed format.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		byCode:   make(map[string]domain.AdapterFactory, len(factories)),
		fallback: domain.DefaultProvider,
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if code := providerCode(f.Provider()); code != "" {
			r.byCode[code] = f
		}
	}
	return r
}

// Has reports whether provider has an adapter of its own.
func (r *Registry) Has(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byCode[providerCode(provider)]
	return ok
}

// Resolve builds the adapter for provider keyed with secret. fallback is true
// when the default envelope stood in for an unknown provider.
func (r *Registry) Resolve(provider, secret string) (adapter domain.Adapter, fallback bool, err error) {
	if r == nil {
		return nil, false, domain.ErrProviderNotFound
	}
	code := providerCode(provider)
	factory, ok := r.byCode[code]
	if !ok {
		factory, ok = r.byCode[r.fallback]
		if !ok {
			return nil, false, domain.ErrProviderNotFound
		}
		fallback = true
	}
	adapter, err = factory.NewAdapter(domain.AdapterConfig{Provider: code, Secret: secret})
	return adapter, fallback, err
}

func providerCode(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider))
}
