package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/cache"
	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/gateway"
	"github.com/smallbiznis/billsync/internal/idempotency"
	"github.com/smallbiznis/billsync/internal/migration"
	"github.com/smallbiznis/billsync/internal/observability"
	"github.com/smallbiznis/billsync/internal/scheduler"
	"github.com/smallbiznis/billsync/internal/server"
	"github.com/smallbiznis/billsync/pkg/db"
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
		cache.Module,
		idempotency.Module,
		gateway.Module,
		migration.Module,

		// HTTP API and webhook ingress, with every billing domain
		server.Module,

		// Deferred cancellations; gated by SCHEDULER_ENABLED
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
