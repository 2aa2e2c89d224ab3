package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stackin/escrow/internal/audit/domain"
	"github.com/stackin/escrow/internal/audit/masking"
	"github.com/stackin/escrow/internal/clock"
	obscontext "github.com/stackin/escrow/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record writes on its own connection, outside any business transaction, so
// an entry survives a rollback of the action it describes.
func (s *Service) Record(ctx context.Context, in auditdomain.Entry) error {
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Action:     action,
		TargetType: firstNonEmpty(in.TargetType, "unknown"),
		TargetID:   optional(in.TargetID),
		Metadata:   datatypes.JSONMap(s.metadata(ctx, in.Metadata)),
		CreatedAt:  s.clock.Now(),
	}
	row.ActorType, row.ActorID = actorOf(ctx, in)

	ip, userAgent := obscontext.ClientFromContext(ctx)
	row.IPAddress = optional(ip)
	row.UserAgent = optional(userAgent)

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_type", row.TargetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) metadata(ctx context.Context, in map[string]any) map[string]any {
	out := masking.MaskFields(in, masking.SensitiveKeys...)
	if out == nil {
		out = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	return out
}

// actorOf prefers the explicit actor, then the authenticated request actor.
func actorOf(ctx context.Context, in auditdomain.Entry) (string, *string) {
	actorType := strings.TrimSpace(string(in.ActorType))
	actorID := strings.TrimSpace(in.ActorID)

	ctxType, ctxID := obscontext.ActorFromContext(ctx)
	if actorType == "" && ctxType != "" {
		actorType = ctxType
		if actorID == "" {
			actorID = ctxID
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, optional(actorID)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func firstNonEmpty(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
