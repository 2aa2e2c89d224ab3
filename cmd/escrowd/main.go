package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stackin/escrow/internal/audit"
	"github.com/stackin/escrow/internal/authorization"
	"github.com/stackin/escrow/internal/clock"
	"github.com/stackin/escrow/internal/config"
	"github.com/stackin/escrow/internal/escrow"
	"github.com/stackin/escrow/internal/events"
	"github.com/stackin/escrow/internal/intent"
	"github.com/stackin/escrow/internal/migration"
	"github.com/stackin/escrow/internal/observability"
	"github.com/stackin/escrow/internal/ratelimit"
	"github.com/stackin/escrow/internal/server"
	"github.com/stackin/escrow/internal/task"
	"github.com/stackin/escrow/internal/wallet"
	"github.com/stackin/escrow/internal/webhook"
	"github.com/stackin/escrow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		events.Module,
		audit.Module,
		authorization.Module,

		// Domain
		task.Module,
		intent.Module,
		wallet.Module,
		escrow.Module,
		webhook.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
