package escrow

import (
	"github.com/stackin/escrow/internal/escrow/repository"
	"github.com/stackin/escrow/internal/escrow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("escrow.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
