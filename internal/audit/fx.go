package audit

import (
	"github.com/stackin/escrow/internal/audit/repository"
	"github.com/stackin/escrow/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
