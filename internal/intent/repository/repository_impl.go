package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, intent *domain.Intent) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (
			id, task_id, client_id, amount, currency, status, provider, provider_ref,
			client_secret, checkout_url, idempotency_key, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.TaskID,
		intent.ClientID,
		intent.Amount,
		intent.Currency,
		intent.Status,
		intent.Provider,
		intent.ProviderRef,
		intent.ClientSecret,
		intent.CheckoutURL,
		intent.IdempotencyKey,
		intent.Metadata,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Intent, error) {
	return take(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByTaskID(ctx context.Context, conn *gorm.DB, taskID snowflake.ID) (*domain.Intent, error) {
	return take(conn.WithContext(ctx).Where("task_id = ?", taskID))
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, conn *gorm.DB, key string) (*domain.Intent, error) {
	return take(conn.WithContext(ctx).Where("idempotency_key = ?", strings.TrimSpace(key)))
}

// FindByProviderRef locks the row on dialects with row locks so duplicate
// deliveries for the same reference queue behind each other.
func (r *repo) FindByProviderRef(ctx context.Context, conn *gorm.DB, provider domain.Provider, ref string) (*domain.Intent, error) {
	stmt := conn.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, strings.TrimSpace(ref))
	if db.SupportsRowLocks(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return take(stmt)
}

func (r *repo) CompareAndSetStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).
		Model(&domain.Intent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetProviderRef(ctx context.Context, conn *gorm.DB, id snowflake.ID, ref string, checkoutURL *string, now time.Time) error {
	return conn.WithContext(ctx).
		Model(&domain.Intent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_ref": ref,
			"checkout_url": checkoutURL,
			"updated_at":   now,
		}).Error
}

func take(stmt *gorm.DB) (*domain.Intent, error) {
	var intent domain.Intent
	if err := stmt.Take(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}
