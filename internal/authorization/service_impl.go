package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/stackin/escrow/internal/audit/domain"
	"github.com/stackin/escrow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const roleAdminSubject = "role:" + RoleAdmin

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies through the gorm adapter (table casbin_rule).
func NewEnforcer(db *gorm.DB, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seed(enforcer, cfg.AdminUserIDs); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer keeps policies in memory only.
func NewMemoryEnforcer(adminUserIDs ...string) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seed(enforcer, adminUserIDs); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object, action string) error {
	allowed, err := s.Can(ctx, actor, object, action)
	if err != nil {
		if errors.Is(err, ErrInvalidActor) {
			s.auditDenied(ctx, actor, object, action)
		}
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) Can(ctx context.Context, actor Actor, object, action string) (bool, error) {
	if !actor.Valid() {
		return false, ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return false, ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return false, ErrInvalidAction
	}

	subject := actor.Subject()
	if actor.claimsAdmin() {
		if err := s.ensureAdmin(subject); err != nil {
			return false, err
		}
	}

	return s.enforcer.Enforce(subject, object, action)
}

func (s *ServiceImpl) ensureAdmin(subject string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleAdminSubject)
	if err != nil || has {
		return err
	}
	if _, err := s.enforcer.AddGroupingPolicy(subject, roleAdminSubject); err != nil {
		return err
	}
	s.log.Info("linked admin role from token claim", zap.String("subject", subject))
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object, action string) {
	if s.auditSvc == nil {
		return
	}
	entry := auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeUser,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   actor.Role,
		},
	}
	if actor.UserID != 0 {
		entry.ActorID = actor.UserID.String()
	}
	_ = s.auditSvc.Record(ctx, entry)
}

func seed(enforcer *casbin.SyncedEnforcer, adminUserIDs []string) error {
	policies := [][]string{
		{roleAdminSubject, ObjectPayment, ActionPaymentList},
		{roleAdminSubject, ObjectPayment, ActionPaymentViewAny},
		{roleAdminSubject, ObjectPayment, ActionPaymentRefundAny},
		{roleAdminSubject, ObjectPayment, ActionPaymentAssignWorker},
		{roleAdminSubject, ObjectIntent, ActionIntentViewAny},
		{roleAdminSubject, ObjectIntent, ActionIntentAttachRef},
		{roleAdminSubject, ObjectWallet, ActionWalletReconcile},
		{roleAdminSubject, ObjectWebhook, ActionWebhookView},
		{roleAdminSubject, ObjectWebhook, ActionWebhookReplay},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	for _, raw := range adminUserIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			continue
		}
		subject := Actor{UserID: id}.Subject()
		has, err := enforcer.HasGroupingPolicy(subject, roleAdminSubject)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(subject, roleAdminSubject); err != nil {
			return err
		}
	}
	return nil
}
