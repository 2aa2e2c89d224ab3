package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status Status
	Cursor *Cursor
	Limit  int
}

type Repository interface {
	// InsertIfAbsent is a no-op when the task already has a payment.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	LockByTaskID(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*Payment, error)
	Save(ctx context.Context, db *gorm.DB, payment *Payment) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Payment, error)
}
