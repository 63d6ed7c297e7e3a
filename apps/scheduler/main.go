package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/cache"
	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/observability"
	"github.com/smallbiznis/billsync/internal/plan"
	"github.com/smallbiznis/billsync/internal/scheduler"
	"github.com/smallbiznis/billsync/internal/subscription"
	"github.com/smallbiznis/billsync/internal/tenant"
	"github.com/smallbiznis/billsync/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		// Domain services required by scheduler
		plan.Module,
		tenant.Module,
		subscription.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
