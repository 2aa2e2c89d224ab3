package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusRequiresAction Status = "REQUIRES_ACTION"
	StatusAuthorized     Status = "AUTHORIZED"
	StatusCanceled       Status = "CANCELED"
	StatusExpired        Status = "EXPIRED"
)

// Transition validates a status change. Repeats and moves out of a terminal
// state return ErrIllegalTransition.
func Transition(from, to Status) (Status, error) {
	switch from {
	case StatusCreated:
		switch to {
		case StatusRequiresAction, StatusAuthorized, StatusCanceled, StatusExpired:
			return to, nil
		}
	case StatusRequiresAction:
		switch to {
		case StatusAuthorized, StatusCanceled, StatusExpired:
			return to, nil
		}
	case StatusAuthorized, StatusCanceled, StatusExpired:
		return from, ErrIllegalTransition
	default:
		return from, ErrUnknownStatus
	}
	return from, ErrIllegalTransition
}

func (s Status) Terminal() bool {
	switch s {
	case StatusAuthorized, StatusCanceled, StatusExpired:
		return true
	case StatusCreated, StatusRequiresAction:
		return false
	default:
		return false
	}
}

type Provider string

const (
	ProviderMock    Provider = "MOCK"
	ProviderTazapay Provider = "TAZAPAY"
)

func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToUpper(strings.TrimSpace(raw))) {
	case ProviderMock, "":
		return ProviderMock, nil
	case ProviderTazapay:
		return ProviderTazapay, nil
	default:
		return "", ErrInvalidProvider
	}
}

type Intent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	TaskID         snowflake.ID      `gorm:"not null;uniqueIndex" json:"task_id"`
	ClientID       snowflake.ID      `gorm:"not null" json:"client_id"`
	Amount         decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"amount"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	Status         Status            `gorm:"type:text;not null;index" json:"status"`
	Provider       Provider          `gorm:"type:text;not null" json:"provider"`
	ProviderRef    *string           `gorm:"type:text" json:"provider_ref,omitempty"`
	ClientSecret   string            `gorm:"type:text;not null" json:"client_secret,omitempty"`
	CheckoutURL    *string           `gorm:"type:text" json:"checkout_url,omitempty"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Intent) TableName() string { return "payment_intents" }

func (i Intent) IsAuthorized() bool {
	return i.Status == StatusAuthorized
}
