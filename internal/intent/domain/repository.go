package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *Intent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Intent, error)
	FindByTaskID(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*Intent, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Intent, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider Provider, ref string) (*Intent, error)
	// CompareAndSetStatus reports false when the row no longer holds from.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (bool, error)
	SetProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, ref string, checkoutURL *string, now time.Time) error
}
