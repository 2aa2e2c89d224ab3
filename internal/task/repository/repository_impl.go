package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackin/escrow/internal/task/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Directory {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Task, error) {
	var task domain.Task
	err := db.WithContext(ctx).
		Select("id", "client_id", "worker_id", "title", "price", "currency", "status").
		Where("id = ?", id).
		Take(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}
