package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryEscrowRelease EntryType = "ESCROW_RELEASE"
	EntryPlatformFee   EntryType = "PLATFORM_FEE"
	EntryRefund        EntryType = "REFUND"
	EntryAdjustment    EntryType = "ADJUSTMENT"
)

// Wallet belongs to one user, or to the platform when IsPlatform is set.
type Wallet struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	OwnerID          *snowflake.ID     `gorm:"uniqueIndex" json:"owner_id,omitempty"`
	IsPlatform       bool              `gorm:"not null" json:"is_platform"`
	AvailableBalance decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"available_balance"`
	PendingBalance   decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"pending_balance"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction is an append-only journal row.
type Transaction struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	WalletID  snowflake.ID    `gorm:"not null;index" json:"wallet_id"`
	Type      EntryType       `gorm:"type:text;not null" json:"type"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	TaskID    *snowflake.ID   `json:"task_id,omitempty"`
	PaymentID *snowflake.ID   `json:"payment_id,omitempty"`
	IntentID  *snowflake.ID   `json:"intent_id,omitempty"`
	Memo      string          `gorm:"type:text" json:"memo"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (Transaction) TableName() string { return "wallet_transactions" }
