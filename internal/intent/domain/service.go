package domain

import (
	"context"
	"errors"

	"github.com/stackin/escrow/internal/authorization"
	"gorm.io/gorm"
)

// CreateIntentRequest carries raw input. Amount and Currency default to the
// task's price and currency when empty.
type CreateIntentRequest struct {
	TaskID         string
	Actor          authorization.Actor
	Amount         string
	Currency       string
	Provider       string
	IdempotencyKey string
}

// AttachProviderRefRequest binds an order created with the provider outside
// this service to a CREATED or REQUIRES_ACTION intent.
type AttachProviderRefRequest struct {
	IntentID    string
	ProviderRef string
	CheckoutURL string
	Actor       authorization.Actor
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string, actor authorization.Actor) (*Intent, error)
	FindByProviderRef(ctx context.Context, tx *gorm.DB, provider Provider, ref string) (*Intent, error)
	AttachProviderRef(ctx context.Context, req AttachProviderRefRequest) (*Intent, error)
	// ApplyStatus moves the intent inside tx. It returns false without error
	// when the move is illegal or a concurrent writer got there first.
	ApplyStatus(ctx context.Context, tx *gorm.DB, intent *Intent, to Status) (bool, error)
}

var (
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("intent_not_found")
	ErrForbidden           = errors.New("forbidden")
	ErrTaskNotFound        = errors.New("task_not_found")
	ErrTaskNotPayable      = errors.New("task_not_payable")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidProviderRef  = errors.New("invalid_provider_ref")
	ErrDuplicateIntent     = errors.New("duplicate_intent")
	ErrIdempotencyConflict = errors.New("idempotency_key_conflict")
	ErrIllegalTransition   = errors.New("illegal_intent_transition")
	ErrUnknownStatus       = errors.New("unknown_intent_status")
)
