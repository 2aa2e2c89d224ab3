package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	EventIntentStatusChanged = "intent.status_changed"
	EventPaymentHeld         = "payment.held"
	EventPaymentReleased     = "payment.released"
	EventPaymentRefunded     = "payment.refunded"
)

const (
	AggregateIntent  = "payment_intent"
	AggregatePayment = "payment"
)

var ErrInvalidEvent = errors.New("invalid_event")

// Event is written to the outbox inside the business transaction.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   snowflake.ID
	Payload       map[string]any
	// DedupeKey collapses repeated writes of the same fact. Optional.
	DedupeKey string
}

// Message is what publishers receive once the writing transaction has committed.
type Message struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
