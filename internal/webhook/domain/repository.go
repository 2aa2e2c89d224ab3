package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Cursor struct {
	ID         snowflake.ID
	ReceivedAt time.Time
}

type ListFilter struct {
	Provider  string
	Processed *bool
	Cursor    *Cursor
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, log *Log) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Log, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	SetError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string) error
	IncrementReplay(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Log, error)
}
