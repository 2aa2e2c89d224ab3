package webhook

import (
	"github.com/stackin/escrow/internal/webhook/adapters"
	"github.com/stackin/escrow/internal/webhook/adapters/mock"
	"github.com/stackin/escrow/internal/webhook/adapters/tazapay"
	"github.com/stackin/escrow/internal/webhook/repository"
	"github.com/stackin/escrow/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(newRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		mock.NewFactory(),
		tazapay.NewFactory(),
	)
}
