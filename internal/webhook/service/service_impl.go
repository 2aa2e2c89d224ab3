package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stackin/escrow/internal/audit/domain"
	"github.com/stackin/escrow/internal/audit/masking"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	escrowdomain "github.com/stackin/escrow/internal/escrow/domain"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/internal/observability/logger"
	"github.com/stackin/escrow/internal/observability/metrics"
	"github.com/stackin/escrow/internal/ratelimit"
	taskdomain "github.com/stackin/escrow/internal/task/domain"
	"github.com/stackin/escrow/internal/webhook/adapters"
	"github.com/stackin/escrow/internal/webhook/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed        = "processed"
	outcomeIntentNotFound   = "intent_not_found"
	outcomeFailed           = "failed"
	outcomeInvalidSignature = "invalid_signature"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Adapters *adapters.Registry
	Intents  intentdomain.Service
	Escrow   escrowdomain.Service
	Tasks    taskdomain.Directory
	Authz    authorization.Service
	Limiter  *ratelimit.WebhookLimiter `optional:"true"`
	AuditSvc auditdomain.Service       `optional:"true"`
	Metrics  *metrics.Metrics          `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	secrets  config.WebhookConfig
	repo     domain.Repository
	adapters *adapters.Registry
	intents  intentdomain.Service
	escrow   escrowdomain.Service
	tasks    taskdomain.Directory
	authz    authorization.Service
	limiter  *ratelimit.WebhookLimiter
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		secrets:  p.Cfg.Webhook,
		repo:     p.Repo,
		adapters: p.Adapters,
		intents:  p.Intents,
		escrow:   p.Escrow,
		tasks:    p.Tasks,
		authz:    p.Authz,
		limiter:  p.Limiter,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Handle(ctx context.Context, raw []byte, signature string) (domain.Result, error) {
	provider := domain.PeekProvider(raw)
	if err := s.allow(ctx, provider); err != nil {
		return domain.Result{}, err
	}

	adapter, err := s.adapterFor(provider)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, domain.EventUnknown, outcomeInvalidSignature)
		return domain.Result{}, domain.ErrInvalidSignature
	}
	if err := adapter.Verify(raw, signature); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, domain.EventUnknown, outcomeInvalidSignature)
		return domain.Result{}, domain.ErrInvalidSignature
	}

	env, err := adapter.Parse(raw)
	if err != nil {
		return domain.Result{}, err
	}

	entry := &domain.Log{
		ID:         s.genID.Generate(),
		Provider:   env.Provider,
		Event:      env.Event,
		Signature:  strings.TrimSpace(signature),
		Payload:    datatypes.JSON(raw),
		ReceivedAt: s.clock.Now(),
	}
	if env.ProviderRef != "" {
		ref := env.ProviderRef
		entry.ProviderRef = &ref
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return domain.Result{}, err
	}

	return s.process(ctx, entry, env)
}

func (s *Service) Replay(ctx context.Context, logID string, actor authorization.Actor) (domain.Result, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectWebhook, authorization.ActionWebhookReplay); err != nil {
		return domain.Result{}, domain.ErrForbidden
	}
	id, err := snowflake.ParseString(strings.TrimSpace(logID))
	if err != nil || id == 0 {
		return domain.Result{}, domain.ErrInvalidID
	}

	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Result{}, err
	}
	if entry == nil {
		return domain.Result{}, domain.ErrLogNotFound
	}
	if entry.Processed {
		return resultFor(entry), nil
	}

	token, err := s.limiter.TryLockReplay(ctx, id.String())
	if err != nil {
		if errors.Is(err, ratelimit.ErrReplayInProgress) {
			return domain.Result{}, domain.ErrReplayInProgress
		}
		return domain.Result{}, err
	}
	defer func() {
		if err := s.limiter.ReleaseReplay(context.WithoutCancel(ctx), id.String(), token); err != nil {
			s.log.Warn("failed to release replay lock", zap.String("log_id", id.String()), zap.Error(err))
		}
	}()

	if err := s.repo.IncrementReplay(ctx, s.db, id); err != nil {
		return domain.Result{}, err
	}
	entry.ReplayCount++

	env, err := s.parseStored(entry)
	var result domain.Result
	if err == nil {
		result, err = s.process(ctx, entry, env)
	} else {
		s.recordError(ctx, entry.ID, err.Error())
		err = fmt.Errorf("%w: %s", domain.ErrProcessing, err.Error())
	}

	s.audit(ctx, actor, entry, err)
	return result, err
}

func (s *Service) ListLogs(ctx context.Context, req domain.ListLogsRequest) (domain.ListLogsResponse, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectWebhook, authorization.ActionWebhookView); err != nil {
		return domain.ListLogsResponse{}, domain.ErrForbidden
	}

	filter := domain.ListFilter{
		Provider:  strings.ToUpper(strings.TrimSpace(req.Provider)),
		Processed: req.Processed,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodeCursor(token)
		if err != nil {
			return domain.ListLogsResponse{}, err
		}
		filter.Cursor = cursor
	}
	filter.Limit = pagination.Pagination{PageSize: req.PageSize}.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListLogsResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, filter.Limit, func(l *domain.Log) pagination.Cursor {
		return pagination.Cursor{
			ID:        l.ID.String(),
			CreatedAt: l.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return domain.ListLogsResponse{}, err
	}

	logs := make([]domain.Log, 0, len(items))
	for _, item := range items {
		view := *item
		view.Signature = masking.MaskSecret(view.Signature)
		logs = append(logs, view)
	}
	return domain.ListLogsResponse{PageInfo: pageInfo, Logs: logs}, nil
}

// process applies env in one transaction and records the outcome on the log
// row. The row stays unprocessed on failure so it can be replayed.
func (s *Service) process(ctx context.Context, entry *domain.Log, env *domain.Envelope) (domain.Result, error) {
	log := logger.WithActor(s.log, string(auditdomain.ActorTypeProvider), env.Provider).With(
		zap.String("log_id", entry.ID.String()),
		zap.String("event", env.Event),
		zap.String("provider_ref", env.ProviderRef),
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(ctx, tx, log, env)
	})
	if err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			s.recordError(ctx, entry.ID, domain.ErrIntentNotFound.Error())
			s.metrics.RecordWebhookEvent(ctx, env.Provider, env.Event, outcomeIntentNotFound)
			log.Info("webhook for unknown intent")
			return domain.Result{}, domain.ErrIntentNotFound
		}
		s.recordError(ctx, entry.ID, err.Error())
		s.metrics.RecordWebhookEvent(ctx, env.Provider, env.Event, outcomeFailed)
		log.Error("webhook processing failed", zap.Error(err))
		return domain.Result{}, fmt.Errorf("%w: %s", domain.ErrProcessing, err.Error())
	}

	now := s.clock.Now()
	if err := s.repo.MarkProcessed(ctx, s.db, entry.ID, now); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
		return domain.Result{}, fmt.Errorf("%w: %s", domain.ErrProcessing, err.Error())
	}
	entry.Processed = true
	entry.ProcessedAt = &now
	entry.Error = nil

	s.metrics.RecordWebhookEvent(ctx, env.Provider, env.Event, outcomeProcessed)
	return resultFor(entry), nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, log *zap.Logger, env *domain.Envelope) error {
	intent, err := s.intents.FindByProviderRef(ctx, tx, intentdomain.Provider(env.Provider), env.ProviderRef)
	if err != nil {
		if errors.Is(err, intentdomain.ErrNotFound) {
			return domain.ErrIntentNotFound
		}
		return err
	}

	switch env.Event {
	case domain.EventAuthorized:
		if _, err := s.intents.ApplyStatus(ctx, tx, intent, intentdomain.StatusAuthorized); err != nil {
			return err
		}
		if !intent.IsAuthorized() {
			log.Warn("authorization ignored for closed intent", zap.String("intent_status", string(intent.Status)))
			return nil
		}
		task, err := s.tasks.Get(ctx, tx, intent.TaskID)
		if err != nil {
			return err
		}
		payment, err := s.escrow.HoldForIntent(ctx, tx, intent, task.WorkerID)
		if err != nil {
			return err
		}
		log.Info("funds held", zap.String("payment_id", payment.ID.String()))
	case domain.EventCanceled:
		_, err := s.intents.ApplyStatus(ctx, tx, intent, intentdomain.StatusCanceled)
		return err
	case domain.EventExpired:
		_, err := s.intents.ApplyStatus(ctx, tx, intent, intentdomain.StatusExpired)
		return err
	default:
		log.Warn("unrecognized webhook event")
	}
	return nil
}

func (s *Service) allow(ctx context.Context, provider string) error {
	if !s.limiter.Enabled() {
		return nil
	}
	res, err := s.limiter.AllowProvider(ctx, provider)
	if err != nil {
		s.log.Warn("webhook rate limiter unavailable", zap.String("provider", provider), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, "webhook", "provider_bucket")
		return domain.ErrRateLimited
	}
	s.metrics.RecordRateLimitAllowed(ctx, "webhook")
	return nil
}

// adapterFor picks the provider's adapter. Providers without one are read
// with the platform envelope and the shared secret.
func (s *Service) adapterFor(provider string) (domain.Adapter, error) {
	adapter, fallback, err := s.adapters.Resolve(provider, s.secrets.SecretFor(provider))
	if fallback {
		s.log.Warn("no adapter for webhook provider", zap.String("provider", provider))
	}
	return adapter, err
}

// parseStored reads a payload that was authenticated when it was received.
func (s *Service) parseStored(entry *domain.Log) (*domain.Envelope, error) {
	adapter, err := s.adapterFor(entry.Provider)
	if err != nil {
		return nil, err
	}
	return adapter.Parse(entry.Payload)
}

func (s *Service) recordError(ctx context.Context, id snowflake.ID, message string) {
	if err := s.repo.SetError(ctx, s.db, id, message); err != nil {
		s.log.Error("failed to record webhook error", zap.String("log_id", id.String()), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, actor authorization.Actor, entry *domain.Log, processErr error) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":     entry.Provider,
		"event":        entry.Event,
		"replay_count": entry.ReplayCount,
		"signature":    entry.Signature,
		"outcome":      outcomeProcessed,
	}
	if processErr != nil {
		metadata["outcome"] = outcomeFailed
		metadata["error"] = processErr.Error()
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    actor.UserID.String(),
		Action:     "webhook.replay",
		TargetType: "webhook_log",
		TargetID:   entry.ID.String(),
		Metadata:   metadata,
	})
}

func resultFor(entry *domain.Log) domain.Result {
	return domain.Result{
		LogID:   entry.ID,
		Event:   entry.Event,
		Message: domain.ProcessedMessage(entry.Event),
	}
}

func decodeCursor(token string) (*domain.Cursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	receivedAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(decoded.ID)
	if err != nil || id == 0 {
		return nil, pagination.ErrInvalidPageToken
	}
	return &domain.Cursor{ID: id, ReceivedAt: receivedAt}, nil
}
