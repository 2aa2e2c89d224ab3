package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/money"
	"gorm.io/datatypes"
)

type Status string

const (
	// StatusNone is the state of a row that has been reserved for a task but
	// never held. It is what "no payment yet" looks like once the row exists.
	StatusNone      Status = "NONE"
	StatusHeld      Status = "HELD"
	StatusReleasing Status = "RELEASING"
	StatusReleased  Status = "RELEASED"
	StatusRefunded  Status = "REFUNDED"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusHeld, StatusReleasing, StatusReleased, StatusRefunded:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Payment is the escrow record for one task.
type Payment struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	TaskID             snowflake.ID      `gorm:"not null;uniqueIndex" json:"task_id"`
	IntentID           snowflake.ID      `gorm:"not null" json:"intent_id"`
	ClientID           snowflake.ID      `gorm:"not null" json:"client_id"`
	WorkerID           *snowflake.ID     `json:"worker_id,omitempty"`
	Amount             decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"amount"`
	Currency           string            `gorm:"type:text;not null" json:"currency"`
	Status             Status            `gorm:"type:text;not null;index" json:"status"`
	PlatformFeePercent decimal.Decimal   `gorm:"type:numeric(5,2);not null" json:"platform_fee_percent"`
	PlatformFeeAmount  decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"platform_fee_amount"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// MarkHeld snapshots the platform fee on first entry. A payment already HELD
// is left untouched and false is returned.
func (p *Payment) MarkHeld() (bool, error) {
	switch p.Status {
	case StatusNone:
		p.PlatformFeeAmount = money.Percent(p.Amount, p.PlatformFeePercent)
		p.Status = StatusHeld
		return true, nil
	case StatusHeld:
		return false, nil
	case StatusReleasing, StatusReleased, StatusRefunded:
		return false, &TransitionError{From: p.Status, To: StatusHeld}
	default:
		return false, ErrUnknownStatus
	}
}

func (p *Payment) BeginRelease() error {
	switch p.Status {
	case StatusHeld:
		if p.WorkerID == nil || *p.WorkerID == 0 {
			return ErrMissingWorker
		}
		p.Status = StatusReleasing
		return nil
	case StatusNone, StatusReleasing, StatusReleased, StatusRefunded:
		return &TransitionError{From: p.Status, To: StatusReleased, Want: StatusHeld}
	default:
		return ErrUnknownStatus
	}
}

func (p *Payment) FinishRelease() error {
	switch p.Status {
	case StatusReleasing:
		p.Status = StatusReleased
		return nil
	case StatusNone, StatusHeld, StatusReleased, StatusRefunded:
		return &TransitionError{From: p.Status, To: StatusReleased, Want: StatusReleasing}
	default:
		return ErrUnknownStatus
	}
}

func (p *Payment) MarkRefunded() error {
	switch p.Status {
	case StatusHeld:
		p.Status = StatusRefunded
		return nil
	case StatusNone, StatusReleasing, StatusReleased, StatusRefunded:
		return &TransitionError{From: p.Status, To: StatusRefunded, Want: StatusHeld}
	default:
		return ErrUnknownStatus
	}
}

// NetToWorker is what the worker receives on release.
func (p Payment) NetToWorker() decimal.Decimal {
	return money.Round2(p.Amount.Sub(p.PlatformFeeAmount))
}
