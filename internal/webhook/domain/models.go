package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventAuthorized = "AUTHORIZED"
	EventCanceled   = "CANCELED"
	EventExpired    = "EXPIRED"
	EventUnknown    = "UNKNOWN"

	DefaultProvider = "MOCK"

	SignatureHeader = "X-Webhook-Signature"
)

// Log is the durable record of one inbound delivery. It is written before any
// business validation and never deleted.
type Log struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider    string         `gorm:"type:text;not null" json:"provider"`
	Event       string         `gorm:"type:text;not null" json:"event"`
	ProviderRef *string        `gorm:"type:text" json:"provider_ref,omitempty"`
	Signature   string         `gorm:"type:text;not null" json:"signature"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	ReceivedAt  time.Time      `gorm:"not null" json:"received_at"`
	Processed   bool           `gorm:"not null;default:false" json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Error       *string        `gorm:"type:text" json:"error,omitempty"`
	ReplayCount int            `gorm:"not null;default:0" json:"replay_count"`
}

func (Log) TableName() string { return "provider_webhook_logs" }

// Envelope is a provider callback normalized by its adapter.
type Envelope struct {
	Provider    string
	Event       string
	ProviderRef string
}

// Result is returned to the provider on a handled delivery.
type Result struct {
	LogID   snowflake.ID `json:"log_id"`
	Event   string       `json:"event"`
	Message string       `json:"message"`
}

func ProcessedMessage(event string) string {
	return "Webhook " + event + " processed"
}

// PeekProvider reads only the provider field, so the right secret can be
// chosen before the body is trusted. Missing or unreadable values give MOCK.
func PeekProvider(raw []byte) string {
	var head struct {
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return DefaultProvider
	}
	provider := strings.ToUpper(strings.TrimSpace(head.Provider))
	if provider == "" {
		return DefaultProvider
	}
	return provider
}
