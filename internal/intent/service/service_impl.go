package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/events"
	"github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/internal/money"
	"github.com/stackin/escrow/internal/observability/logger"
	taskdomain "github.com/stackin/escrow/internal/task/domain"
	"github.com/stackin/escrow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const mockCheckoutBase = "https://checkout.mock.local/pay/"

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Tasks  taskdomain.Directory
	Authz  authorization.Service
	Outbox *events.Outbox
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	tasks  taskdomain.Directory
	authz  authorization.Service
	outbox *events.Outbox
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("intent.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		tasks:  p.Tasks,
		authz:  p.Authz,
		outbox: p.Outbox,
	}
}

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.Intent, error) {
	if !req.Actor.Valid() {
		return nil, domain.ErrForbidden
	}
	taskID, err := parseID(req.TaskID)
	if err != nil {
		return nil, err
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return replayed(existing, taskID, req.Actor.UserID)
		}
	}

	task, err := s.tasks.Get(ctx, s.db, taskID)
	if err != nil {
		if errors.Is(err, taskdomain.ErrNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	if task.ClientID != req.Actor.UserID {
		return nil, domain.ErrForbidden
	}
	if !task.Status.Payable() {
		return nil, domain.ErrTaskNotPayable
	}

	amount := task.Price
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		amount, err = money.ParseAmount(raw)
		if err != nil {
			return nil, domain.ErrInvalidAmount
		}
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	rawCurrency := strings.TrimSpace(req.Currency)
	if rawCurrency == "" {
		rawCurrency = task.Currency
	}
	currency, err := money.ParseCurrency(rawCurrency)
	if err != nil {
		return nil, domain.ErrInvalidCurrency
	}

	existing, err := s.repo.FindByTaskID(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateIntent
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	intent := domain.Intent{
		ID:           id,
		TaskID:       taskID,
		ClientID:     req.Actor.UserID,
		Amount:       money.Round2(amount),
		Currency:     string(currency),
		Status:       domain.StatusCreated,
		Provider:     provider,
		ClientSecret: fmt.Sprintf("pi_%s_secret_%s", id.String(), strings.ReplaceAll(uuid.NewString(), "-", "")),
		Metadata:     datatypes.JSONMap{"task_title": task.Title},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if key != "" {
		intent.IdempotencyKey = &key
	}
	if provider == domain.ProviderMock {
		ref := "mock_" + ulid.Make().String()
		checkout := mockCheckoutBase + ref
		intent.ProviderRef = &ref
		intent.CheckoutURL = &checkout
	}

	if err := s.repo.Insert(ctx, s.db, &intent); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		if key != "" {
			if winner, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, key); findErr == nil && winner != nil {
				return replayed(winner, taskID, req.Actor.UserID)
			}
		}
		return nil, domain.ErrDuplicateIntent
	}

	s.log.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("task_id", taskID.String()),
		zap.String("provider", string(provider)),
		zap.String("amount", money.String(intent.Amount)),
		zap.String("currency", intent.Currency),
	)
	return &intent, nil
}

func (s *Service) GetIntent(ctx context.Context, id string, actor authorization.Actor) (*domain.Intent, error) {
	intentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	intent, err := s.repo.FindByID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrNotFound
	}
	if intent.ClientID == actor.UserID && actor.Valid() {
		return intent, nil
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectIntent, authorization.ActionIntentViewAny); err != nil {
		return nil, domain.ErrForbidden
	}
	return intent, nil
}

func (s *Service) FindByProviderRef(ctx context.Context, tx *gorm.DB, provider domain.Provider, ref string) (*domain.Intent, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	intent, err := s.repo.FindByProviderRef(ctx, tx, provider, ref)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrNotFound
	}
	return intent, nil
}

func (s *Service) AttachProviderRef(ctx context.Context, req domain.AttachProviderRefRequest) (*domain.Intent, error) {
	id, err := parseID(req.IntentID)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(req.ProviderRef)
	if ref == "" {
		return nil, domain.ErrInvalidProviderRef
	}
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectIntent, authorization.ActionIntentAttachRef); err != nil {
		return nil, domain.ErrForbidden
	}

	var out *domain.Intent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if intent == nil {
			return domain.ErrNotFound
		}
		if intent.ProviderRef != nil {
			if *intent.ProviderRef != ref {
				return domain.ErrInvalidProviderRef
			}
			out = intent
			return nil
		}
		if intent.Status.Terminal() {
			return domain.ErrIllegalTransition
		}

		var checkout *string
		if trimmed := strings.TrimSpace(req.CheckoutURL); trimmed != "" {
			checkout = &trimmed
		}
		if err := s.repo.SetProviderRef(ctx, tx, intent.ID, ref, checkout, s.clock.Now()); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrInvalidProviderRef
			}
			return err
		}
		intent.ProviderRef = &ref
		intent.CheckoutURL = checkout

		if intent.Status == domain.StatusCreated {
			if _, err := s.ApplyStatus(ctx, tx, intent, domain.StatusRequiresAction); err != nil {
				return err
			}
		}
		out = intent
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("provider ref attached",
		zap.String("intent_id", out.ID.String()),
		zap.String("provider", string(out.Provider)),
		zap.String("provider_ref", ref),
	)
	return out, nil
}

func (s *Service) ApplyStatus(ctx context.Context, tx *gorm.DB, intent *domain.Intent, to domain.Status) (bool, error) {
	from := intent.Status
	next, err := domain.Transition(from, to)
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			s.log.Warn("ignored out-of-order intent transition",
				zap.String("intent_id", intent.ID.String()),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
			return false, nil
		}
		return false, err
	}

	now := s.clock.Now()
	swapped, err := s.repo.CompareAndSetStatus(ctx, tx, intent.ID, from, next, now)
	if err != nil {
		return false, err
	}
	if !swapped {
		current, err := s.repo.FindByID(ctx, tx, intent.ID)
		if err != nil {
			return false, err
		}
		if current != nil {
			*intent = *current
		}
		s.log.Warn("intent changed concurrently",
			zap.String("intent_id", intent.ID.String()),
			zap.String("expected", string(from)),
			zap.String("current", string(intent.Status)),
			zap.String("to", string(to)),
		)
		return false, nil
	}

	intent.Status = next
	intent.UpdatedAt = now

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:          events.EventIntentStatusChanged,
		AggregateType: events.AggregateIntent,
		AggregateID:   intent.ID,
		Payload: map[string]any{
			"intent_id": intent.ID.String(),
			"task_id":   intent.TaskID.String(),
			"client_id": intent.ClientID.String(),
			"from":      string(from),
			"to":        string(next),
		},
		DedupeKey: fmt.Sprintf("intent:%s:%s", intent.ID.String(), next),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func replayed(existing *domain.Intent, taskID, clientID snowflake.ID) (*domain.Intent, error) {
	if existing.TaskID != taskID || existing.ClientID != clientID {
		return nil, domain.ErrIdempotencyConflict
	}
	return existing, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
