package domain

// AdapterConfig carries what a provider adapter needs at construction.
type AdapterConfig struct {
	Provider string
	Secret   string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Adapter authenticates and normalizes one provider's callbacks.
type Adapter interface {
	Verify(payload []byte, signature string) error
	Parse(payload []byte) (*Envelope, error)
}
