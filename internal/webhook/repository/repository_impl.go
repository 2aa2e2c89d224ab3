package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackin/escrow/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *domain.Log) error {
	if log == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_webhook_logs (
			id, provider, event, provider_ref, signature, payload,
			received_at, processed, replay_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.Provider,
		log.Event,
		log.ProviderRef,
		log.Signature,
		log.Payload,
		log.ReceivedAt,
		log.Processed,
		log.ReplayCount,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Log, error) {
	var log domain.Log
	err := db.WithContext(ctx).Where("id = ?", id).Take(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// MarkProcessed also clears any error left by an earlier failed attempt.
func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE provider_webhook_logs
		 SET processed = ?, processed_at = ?, error = NULL
		 WHERE id = ?`,
		true,
		processedAt,
		id,
	).Error
}

func (r *repo) SetError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE provider_webhook_logs SET error = ? WHERE id = ?`,
		message,
		id,
	).Error
}

func (r *repo) IncrementReplay(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE provider_webhook_logs SET replay_count = replay_count + 1 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Log, error) {
	var items []*domain.Log
	stmt := db.WithContext(ctx).Model(&domain.Log{})
	if filter.Provider != "" {
		stmt = stmt.Where("provider = ?", filter.Provider)
	}
	if filter.Processed != nil {
		stmt = stmt.Where("processed = ?", *filter.Processed)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(received_at < ?) OR (received_at = ? AND id < ?)",
			filter.Cursor.ReceivedAt,
			filter.Cursor.ReceivedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("received_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
