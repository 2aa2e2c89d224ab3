package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/stackin/escrow/internal/clock"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxRecord is a row of outbox_events.
type OutboxRecord struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	EventID       string         `gorm:"type:text;not null;uniqueIndex"`
	Topic         string         `gorm:"type:text;not null"`
	AggregateType string         `gorm:"type:text;not null"`
	AggregateID   snowflake.ID   `gorm:"not null"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	PublishedAt   *time.Time
	Attempts      int
	LastError     *string
}

func (OutboxRecord) TableName() string { return "outbox_events" }

type OutboxParams struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{genID: p.GenID, clock: p.Clock}
}

// PublishTx stages the event in the caller's transaction. It becomes visible to
// the relay only if that transaction commits.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	topic := strings.TrimSpace(event.Type)
	if topic == "" || event.AggregateID == 0 {
		return ErrInvalidEvent
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	eventID := strings.TrimSpace(event.DedupeKey)
	if eventID == "" {
		eventID = ulid.Make().String()
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (
			id, event_id, topic, aggregate_type, aggregate_id, payload, created_at, attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (event_id) DO NOTHING`,
		o.genID.Generate(),
		eventID,
		topic,
		strings.TrimSpace(event.AggregateType),
		event.AggregateID,
		datatypes.JSON(payload),
		o.clock.Now(),
	).Error
}
