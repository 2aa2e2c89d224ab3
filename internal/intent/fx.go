package intent

import (
	"github.com/stackin/escrow/internal/intent/repository"
	"github.com/stackin/escrow/internal/intent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
