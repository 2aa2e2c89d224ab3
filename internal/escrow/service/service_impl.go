package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stackin/escrow/internal/audit/domain"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	"github.com/stackin/escrow/internal/escrow/domain"
	"github.com/stackin/escrow/internal/events"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/internal/money"
	"github.com/stackin/escrow/internal/observability/logger"
	"github.com/stackin/escrow/internal/observability/metrics"
	taskdomain "github.com/stackin/escrow/internal/task/domain"
	walletdomain "github.com/stackin/escrow/internal/wallet/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Wallet   walletdomain.Service
	Tasks    taskdomain.Directory
	Authz    authorization.Service
	Outbox   *events.Outbox
	Fees     *config.FeeConfigHolder
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	wallet   walletdomain.Service
	tasks    taskdomain.Directory
	authz    authorization.Service
	outbox   *events.Outbox
	fees     *config.FeeConfigHolder
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("escrow.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		wallet:   p.Wallet,
		tasks:    p.Tasks,
		authz:    p.Authz,
		outbox:   p.Outbox,
		fees:     p.Fees,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) HoldForIntent(ctx context.Context, tx *gorm.DB, intent *intentdomain.Intent, workerID *snowflake.ID) (*domain.Payment, error) {
	if intent == nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	candidate := domain.Payment{
		ID:                 s.genID.Generate(),
		TaskID:             intent.TaskID,
		IntentID:           intent.ID,
		ClientID:           intent.ClientID,
		WorkerID:           workerID,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
		Status:             domain.StatusNone,
		PlatformFeePercent: s.fees.PercentFor(intent.Currency),
		Metadata:           datatypes.JSONMap{"provider": string(intent.Provider)},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.InsertIfAbsent(ctx, tx, &candidate); err != nil {
		return nil, err
	}

	payment, err := s.repo.LockByTaskID(ctx, tx, intent.TaskID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}

	from := payment.Status
	changed, err := payment.MarkHeld()
	if err != nil {
		return nil, err
	}
	if !changed {
		s.log.Info("payment already held, fee snapshot kept",
			zap.String("payment_id", payment.ID.String()),
			zap.String("task_id", payment.TaskID.String()),
		)
		return payment, nil
	}

	payment.UpdatedAt = now
	if err := s.repo.Save(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, tx, events.EventPaymentHeld, payment); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentTransition(ctx, string(from), string(payment.Status))
	s.log.Info("payment held",
		zap.String("payment_id", payment.ID.String()),
		zap.String("task_id", payment.TaskID.String()),
		zap.String("amount", money.String(payment.Amount)),
		zap.String("platform_fee_percent", money.String(payment.PlatformFeePercent)),
		zap.String("platform_fee_amount", money.String(payment.PlatformFeeAmount)),
	)
	return payment, nil
}

// Release moves a HELD payment to the worker. RELEASING only exists inside
// the transaction: any failure rolls the payment back to HELD.
func (s *Service) Release(ctx context.Context, paymentID string, actor authorization.Actor) (*domain.Payment, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadAsClient(ctx, id, actor); err != nil {
		return nil, err
	}

	var released *domain.Payment
	var result walletdomain.ReleaseResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Status == domain.StatusHeld {
			if err := s.resolveWorker(ctx, tx, payment); err != nil {
				return err
			}
		}
		if err := payment.BeginRelease(); err != nil {
			return err
		}
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, payment); err != nil {
			return err
		}

		result, err = s.wallet.ApplyEscrowRelease(ctx, tx, walletdomain.ReleaseInput{
			PaymentID: payment.ID,
			TaskID:    payment.TaskID,
			IntentID:  payment.IntentID,
			WorkerID:  *payment.WorkerID,
			Amount:    payment.Amount,
			FeeAmount: payment.PlatformFeeAmount,
			Currency:  payment.Currency,
		})
		if err != nil {
			return err
		}

		if err := payment.FinishRelease(); err != nil {
			return err
		}
		payment.Metadata = withEntry(payment.Metadata, "released_by", actor.UserID.String())
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, events.EventPaymentReleased, payment); err != nil {
			return err
		}
		released = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentTransition(ctx, string(domain.StatusHeld), string(domain.StatusReleased))
	s.audit(ctx, actor, "payment.release", released, map[string]any{
		"net_to_worker":       money.String(result.NetToWorker),
		"platform_fee_amount": money.String(result.FeeAmount),
	})
	logger.WithContext(ctx, s.log).Info("payment released",
		zap.String("payment_id", released.ID.String()),
		zap.String("net_to_worker", money.String(result.NetToWorker)),
		zap.String("platform_fee_amount", money.String(result.FeeAmount)),
	)
	return released, nil
}

// Refund flips a HELD payment to REFUNDED. No wallet is touched: the money
// goes back through the provider.
func (s *Service) Refund(ctx context.Context, paymentID string, actor authorization.Actor) (*domain.Payment, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Valid() {
		return nil, domain.ErrForbidden
	}
	if current.ClientID != actor.UserID {
		if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayment, authorization.ActionPaymentRefundAny); err != nil {
			return nil, domain.ErrForbidden
		}
	}

	var refunded *domain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if err := payment.MarkRefunded(); err != nil {
			return err
		}
		payment.Metadata = withEntry(payment.Metadata, "refunded_by", actor.UserID.String())
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, events.EventPaymentRefunded, payment); err != nil {
			return err
		}
		refunded = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentTransition(ctx, string(domain.StatusHeld), string(domain.StatusRefunded))
	s.audit(ctx, actor, "payment.refund", refunded, nil)
	logger.WithContext(ctx, s.log).Info("payment refunded", zap.String("payment_id", refunded.ID.String()))
	return refunded, nil
}

func (s *Service) Get(ctx context.Context, paymentID string, actor authorization.Actor) (*domain.View, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(ctx, payment, actor) {
		return nil, domain.ErrForbidden
	}

	view := s.view(payment)
	if task, err := s.tasks.Get(ctx, s.db, payment.TaskID); err == nil {
		view.TaskTitle = task.Title
	}
	return &view, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectPayment, authorization.ActionPaymentList); err != nil {
		return domain.ListResponse{}, domain.ErrForbidden
	}

	filter := domain.ListFilter{}
	if raw := strings.ToUpper(strings.TrimSpace(req.Status)); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Status = status
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Cursor = cursor
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	filter.Limit = page.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, filter.Limit, func(p *domain.Payment) pagination.Cursor {
		return pagination.Cursor{
			ID:        p.ID.String(),
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	views := make([]domain.View, 0, len(items))
	for _, item := range items {
		views = append(views, s.view(item))
	}
	return domain.ListResponse{PageInfo: pageInfo, Payments: views}, nil
}

// AssignWorker records the worker chosen after funds were held. The client
// can never be its own worker.
func (s *Service) AssignWorker(ctx context.Context, req domain.AssignWorkerRequest) (*domain.Payment, error) {
	taskID, err := parseID(req.TaskID)
	if err != nil {
		return nil, err
	}
	workerID, err := parseID(req.WorkerID)
	if err != nil {
		return nil, domain.ErrInvalidWorker
	}
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectPayment, authorization.ActionPaymentAssignWorker); err != nil {
		return nil, domain.ErrForbidden
	}

	var out *domain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.LockByTaskID(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrNotFound
		}
		if payment.Status != domain.StatusHeld {
			return &domain.TransitionError{From: payment.Status, To: payment.Status, Want: domain.StatusHeld}
		}
		if payment.ClientID == workerID {
			return domain.ErrInvalidWorker
		}
		out = payment
		if payment.WorkerID != nil && *payment.WorkerID == workerID {
			return nil
		}
		payment.WorkerID = &workerID
		payment.UpdatedAt = s.clock.Now()
		return s.repo.Save(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, "payment.assign_worker", out, map[string]any{"worker_id": workerID.String()})
	logger.WithContext(ctx, s.log).Info("payment worker assigned",
		zap.String("payment_id", out.ID.String()),
		zap.String("task_id", out.TaskID.String()),
		zap.String("worker_id", workerID.String()),
	)
	return out, nil
}

// resolveWorker fills a missing worker from the task directory, for tasks
// funded before anyone was assigned.
func (s *Service) resolveWorker(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	if payment.WorkerID != nil && *payment.WorkerID != 0 {
		return nil
	}
	task, err := s.tasks.Get(ctx, tx, payment.TaskID)
	if err != nil {
		if errors.Is(err, taskdomain.ErrNotFound) {
			return nil
		}
		return err
	}
	if task.WorkerID == nil || *task.WorkerID == 0 || *task.WorkerID == payment.ClientID {
		return nil
	}
	worker := *task.WorkerID
	payment.WorkerID = &worker
	s.log.Info("payment worker taken from task",
		zap.String("payment_id", payment.ID.String()),
		zap.String("worker_id", worker.String()),
	)
	return nil
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) loadAsClient(ctx context.Context, id snowflake.ID, actor authorization.Actor) (*domain.Payment, error) {
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Valid() || payment.ClientID != actor.UserID {
		return nil, domain.ErrForbidden
	}
	return payment, nil
}

func (s *Service) canView(ctx context.Context, payment *domain.Payment, actor authorization.Actor) bool {
	if !actor.Valid() {
		return false
	}
	if payment.ClientID == actor.UserID {
		return true
	}
	if payment.WorkerID != nil && *payment.WorkerID == actor.UserID {
		return true
	}
	return s.authz.Authorize(ctx, actor, authorization.ObjectPayment, authorization.ActionPaymentViewAny) == nil
}

func (s *Service) view(payment *domain.Payment) domain.View {
	return domain.View{Payment: *payment, NetToWorker: payment.NetToWorker()}
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, topic string, payment *domain.Payment) error {
	payload := map[string]any{
		"payment_id":          payment.ID.String(),
		"task_id":             payment.TaskID.String(),
		"client_id":           payment.ClientID.String(),
		"amount":              money.String(payment.Amount),
		"platform_fee_amount": money.String(payment.PlatformFeeAmount),
		"currency":            payment.Currency,
		"status":              string(payment.Status),
	}
	if payment.WorkerID != nil {
		payload["worker_id"] = payment.WorkerID.String()
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:          topic,
		AggregateType: events.AggregatePayment,
		AggregateID:   payment.ID,
		Payload:       payload,
		DedupeKey:     topic + ":" + payment.ID.String(),
	})
}

func (s *Service) audit(ctx context.Context, actor authorization.Actor, action string, payment *domain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"task_id": payment.TaskID.String(),
		"status":  string(payment.Status),
		"amount":  money.String(payment.Amount),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	actorType := auditdomain.ActorTypeUser
	if strings.EqualFold(actor.Role, authorization.RoleAdmin) {
		actorType = auditdomain.ActorTypeAdmin
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  actorType,
		ActorID:    actor.UserID.String(),
		Action:     action,
		TargetType: "payment",
		TargetID:   payment.ID.String(),
		Metadata:   metadata,
	})
}

func withEntry(meta datatypes.JSONMap, key string, value any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range meta {
		out[k] = v
	}
	out[key] = value
	return out
}

func decodeCursor(token string) (*domain.Cursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(decoded.ID)
	if err != nil || id == 0 {
		return nil, pagination.ErrInvalidPageToken
	}
	return &domain.Cursor{ID: id, CreatedAt: createdAt}, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
