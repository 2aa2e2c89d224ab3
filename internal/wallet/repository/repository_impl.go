package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/wallet/domain"
	"github.com/stackin/escrow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureOwnerWallet(ctx context.Context, conn *gorm.DB, id, ownerID snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, owner_id, is_platform, available_balance, pending_balance, metadata, created_at, updated_at)
		 VALUES (?, ?, false, ?, ?, '{}', ?, ?)
		 ON CONFLICT (owner_id) DO NOTHING`,
		id,
		ownerID,
		decimal.Zero,
		decimal.Zero,
		now,
		now,
	).Error
}

// EnsurePlatformWallet relies on the partial unique index over is_platform,
// hence the conflict clause without a target.
func (r *repo) EnsurePlatformWallet(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, owner_id, is_platform, available_balance, pending_balance, metadata, created_at, updated_at)
		 VALUES (?, NULL, true, ?, ?, '{"kind":"platform"}', ?, ?)
		 ON CONFLICT DO NOTHING`,
		id,
		decimal.Zero,
		decimal.Zero,
		now,
		now,
	).Error
}

func (r *repo) LockOwnerWallet(ctx context.Context, conn *gorm.DB, ownerID snowflake.ID) (*domain.Wallet, error) {
	return take(forUpdate(conn.WithContext(ctx)).Where("owner_id = ?", ownerID))
}

func (r *repo) LockPlatformWallet(ctx context.Context, conn *gorm.DB) (*domain.Wallet, error) {
	return take(forUpdate(conn.WithContext(ctx)).Where("is_platform = ?", true))
}

func (r *repo) SetAvailableBalance(ctx context.Context, conn *gorm.DB, id snowflake.ID, balance decimal.Decimal, now time.Time) error {
	return conn.WithContext(ctx).
		Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"available_balance": balance,
			"updated_at":        now,
		}).Error
}

func (r *repo) InsertTransaction(ctx context.Context, conn *gorm.DB, txn *domain.Transaction) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (
			id, wallet_id, type, amount, task_id, payment_id, intent_id, memo, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.WalletID,
		txn.Type,
		txn.Amount,
		txn.TaskID,
		txn.PaymentID,
		txn.IntentID,
		txn.Memo,
		txn.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Wallet, error) {
	return take(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByOwner(ctx context.Context, conn *gorm.DB, ownerID snowflake.ID) (*domain.Wallet, error) {
	return take(conn.WithContext(ctx).Where("owner_id = ?", ownerID))
}

func (r *repo) ListTransactions(ctx context.Context, conn *gorm.DB, walletID snowflake.ID, cursor *domain.TransactionCursor, limit int) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	stmt := conn.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("wallet_id = ?", walletID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt,
			cursor.CreatedAt,
			cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) JournalAmounts(ctx context.Context, conn *gorm.DB, walletID snowflake.ID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := conn.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("wallet_id = ?", walletID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

func forUpdate(stmt *gorm.DB) *gorm.DB {
	if db.SupportsRowLocks(stmt) {
		return stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return stmt
}

func take(stmt *gorm.DB) (*domain.Wallet, error) {
	var wallet domain.Wallet
	if err := stmt.Take(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}
