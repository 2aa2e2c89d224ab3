package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/pkg/db/pagination"
	"gorm.io/gorm"
)

type ReleaseInput struct {
	PaymentID snowflake.ID
	TaskID    snowflake.ID
	IntentID  snowflake.ID
	WorkerID  snowflake.ID
	Amount    decimal.Decimal
	FeeAmount decimal.Decimal
	Currency  string
}

type ReleaseResult struct {
	NetToWorker      decimal.Decimal
	FeeAmount        decimal.Decimal
	WorkerWalletID   snowflake.ID
	PlatformWalletID snowflake.ID
}

type ReconcileResult struct {
	WalletID   snowflake.ID    `json:"wallet_id"`
	Balance    decimal.Decimal `json:"available_balance"`
	JournalSum decimal.Decimal `json:"journal_sum"`
	Entries    int             `json:"entries"`
	Balanced   bool            `json:"balanced"`
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

type Service interface {
	// ApplyEscrowRelease credits the worker and, when a fee is due, the
	// platform. It only writes through tx. The worker wallet is always locked
	// before the platform wallet.
	ApplyEscrowRelease(ctx context.Context, tx *gorm.DB, in ReleaseInput) (ReleaseResult, error)
	GetWallet(ctx context.Context, ownerID snowflake.ID) (*Wallet, error)
	ListTransactions(ctx context.Context, walletID snowflake.ID, page pagination.Pagination) (ListTransactionsResponse, error)
	Reconcile(ctx context.Context, walletID string, actor authorization.Actor) (ReconcileResult, error)
}

var (
	ErrInvalidID     = errors.New("invalid_id")
	ErrNotFound      = errors.New("wallet_not_found")
	ErrForbidden     = errors.New("forbidden")
	ErrNegativeNet   = errors.New("net_to_worker_negative")
	ErrMissingWorker = errors.New("missing_worker")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrWalletMissing = errors.New("wallet_missing_after_upsert")
)
