package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	// EnsureOwnerWallet and EnsurePlatformWallet insert an empty wallet unless
	// one already exists.
	EnsureOwnerWallet(ctx context.Context, db *gorm.DB, id, ownerID snowflake.ID, now time.Time) error
	EnsurePlatformWallet(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	LockOwnerWallet(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*Wallet, error)
	LockPlatformWallet(ctx context.Context, db *gorm.DB) (*Wallet, error)
	SetAvailableBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance decimal.Decimal, now time.Time) error
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Wallet, error)
	FindByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*Wallet, error)
	ListTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID, cursor *TransactionCursor, limit int) ([]*Transaction, error)
	JournalAmounts(ctx context.Context, db *gorm.DB, walletID snowflake.ID) ([]decimal.Decimal, error)
}
