package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackin/escrow/internal/escrow/domain"
	"github.com/stackin/escrow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, task_id, intent_id, client_id, worker_id, amount, currency, status,
			platform_fee_percent, platform_fee_amount, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`,
		payment.ID,
		payment.TaskID,
		payment.IntentID,
		payment.ClientID,
		payment.WorkerID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.PlatformFeePercent,
		payment.PlatformFeeAmount,
		payment.Metadata,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return take(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return take(forUpdate(conn.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) LockByTaskID(ctx context.Context, conn *gorm.DB, taskID snowflake.ID) (*domain.Payment, error) {
	return take(forUpdate(conn.WithContext(ctx)).Where("task_id = ?", taskID))
}

// Save writes the mutable columns. Amount, currency, parties and the fee
// percent are fixed at creation.
func (r *repo) Save(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"status":              payment.Status,
			"worker_id":           payment.WorkerID,
			"platform_fee_amount": payment.PlatformFeeAmount,
			"metadata":            payment.Metadata,
			"updated_at":          payment.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.Payment, error) {
	var items []*domain.Payment
	stmt := conn.WithContext(ctx).Model(&domain.Payment{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func forUpdate(stmt *gorm.DB) *gorm.DB {
	if db.SupportsRowLocks(stmt) {
		return stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return stmt
}

func take(stmt *gorm.DB) (*domain.Payment, error) {
	var payment domain.Payment
	if err := stmt.Take(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}
