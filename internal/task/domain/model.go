package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Status mirrors the task subsystem's lifecycle.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPosted            Status = "posted"
	StatusAssigned          Status = "assigned"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusClientConfirmed   Status = "client_confirmed"
	StatusDisputed          Status = "disputed"
	StatusCancelledByClient Status = "cancelled_by_client"
	StatusCancelledByWorker Status = "cancelled_by_tasker"
	StatusCancelledBySystem Status = "cancelled_by_system"
	StatusExpired           Status = "expired"
)

// Payable reports whether a client may fund the task in this status.
func (s Status) Payable() bool {
	switch s {
	case StatusPosted, StatusAssigned, StatusInProgress, StatusCompleted, StatusClientConfirmed:
		return true
	case StatusDraft, StatusDisputed, StatusCancelledByClient, StatusCancelledByWorker, StatusCancelledBySystem, StatusExpired:
		return false
	default:
		return false
	}
}

// Task is the read-only view of a unit of work the escrow core pays for.
type Task struct {
	ID       snowflake.ID    `gorm:"primaryKey"`
	ClientID snowflake.ID    `gorm:"not null"`
	WorkerID *snowflake.ID   `gorm:"column:worker_id"`
	Title    string          `gorm:"type:text"`
	Price    decimal.Decimal `gorm:"type:numeric(14,2)"`
	Currency string          `gorm:"type:text"`
	Status   Status          `gorm:"type:text"`
}

func (Task) TableName() string { return "tasks" }

type Directory interface {
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Task, error)
}

var ErrNotFound = errors.New("task_not_found")
