package task

import (
	"github.com/stackin/escrow/internal/task/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("task.directory",
	fx.Provide(repository.Provide),
)
