package authorization

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	ObjectPayment = "payment"
	ObjectIntent  = "payment_intent"
	ObjectWallet  = "wallet"
	ObjectWebhook = "webhook_log"
)

const (
	ActionPaymentList         = "payment.list"
	ActionPaymentViewAny      = "payment.view_any"
	ActionPaymentRefundAny    = "payment.refund_any"
	ActionPaymentAssignWorker = "payment.assign_worker"
	ActionIntentViewAny       = "intent.view_any"
	ActionIntentAttachRef     = "intent.attach_provider_ref"
	ActionWalletReconcile     = "wallet.reconcile"
	ActionWebhookView         = "webhook.view"
	ActionWebhookReplay       = "webhook.replay"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID snowflake.ID
	Role   string
}

func (a Actor) Valid() bool {
	return a.UserID != 0
}

func (a Actor) Subject() string {
	return "user:" + a.UserID.String()
}

func (a Actor) claimsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), RoleAdmin)
}

type Service interface {
	// Authorize fails with ErrForbidden and writes an audit entry when the
	// actor lacks the capability.
	Authorize(ctx context.Context, actor Actor, object, action string) error
	// Can answers without auditing, for checks that have a non-admin fallback.
	Can(ctx context.Context, actor Actor, object, action string) (bool, error)
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
