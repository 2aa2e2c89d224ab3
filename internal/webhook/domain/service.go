package domain

import (
	"context"

	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/pkg/db/pagination"
)

type ListLogsRequest struct {
	Actor     authorization.Actor
	Provider  string
	Processed *bool
	PageToken string
	PageSize  int
}

type ListLogsResponse struct {
	pagination.PageInfo
	Logs []Log `json:"logs"`
}

type Service interface {
	// Handle authenticates a raw delivery, records it, and applies it.
	Handle(ctx context.Context, raw []byte, signature string) (Result, error)
	// Replay re-applies a stored delivery that failed to process.
	Replay(ctx context.Context, logID string, actor authorization.Actor) (Result, error)
	ListLogs(ctx context.Context, req ListLogsRequest) (ListLogsResponse, error)
}
