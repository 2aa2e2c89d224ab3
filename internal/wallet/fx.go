package wallet

import (
	"github.com/stackin/escrow/internal/wallet/repository"
	"github.com/stackin/escrow/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
