package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stackin/escrow/internal/authorization"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
	"gorm.io/gorm"
)

// View is the payment as shown to its parties, with the fee breakdown.
type View struct {
	Payment
	NetToWorker decimal.Decimal `json:"net_to_worker"`
	TaskTitle   string          `json:"task_title,omitempty"`
}

type ListRequest struct {
	Actor     authorization.Actor
	Status    string
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Payments []View `json:"payments"`
}

// AssignWorkerRequest records the worker the task subsystem picked after the
// task was funded.
type AssignWorkerRequest struct {
	TaskID   string
	WorkerID string
	Actor    authorization.Actor
}

type Service interface {
	// HoldForIntent gets or creates the task's payment inside tx and marks
	// it HELD. Repeated calls leave the fee snapshot untouched.
	HoldForIntent(ctx context.Context, tx *gorm.DB, intent *intentdomain.Intent, workerID *snowflake.ID) (*Payment, error)
	Release(ctx context.Context, paymentID string, actor authorization.Actor) (*Payment, error)
	Refund(ctx context.Context, paymentID string, actor authorization.Actor) (*Payment, error)
	Get(ctx context.Context, paymentID string, actor authorization.Actor) (*View, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	AssignWorker(ctx context.Context, req AssignWorkerRequest) (*Payment, error)
}
