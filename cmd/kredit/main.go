package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/alert"
	"github.com/smallbiznis/kredit/internal/billingsync"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/config"
	"github.com/smallbiznis/kredit/internal/consumption"
	"github.com/smallbiznis/kredit/internal/grant"
	"github.com/smallbiznis/kredit/internal/lock"
	"github.com/smallbiznis/kredit/internal/migration"
	"github.com/smallbiznis/kredit/internal/observability"
	"github.com/smallbiznis/kredit/internal/organization"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	"github.com/smallbiznis/kredit/internal/providers/email"
	"github.com/smallbiznis/kredit/internal/reporter"
	"github.com/smallbiznis/kredit/internal/scheduler"
	"github.com/smallbiznis/kredit/internal/server"
	"github.com/smallbiznis/kredit/internal/subscription"
	"github.com/smallbiznis/kredit/internal/usage"
	"github.com/smallbiznis/kredit/internal/usageperiod"
	"github.com/smallbiznis/kredit/pkg/db"
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
		lock.Module,
		migration.Module,

		// Providers
		billing.Module,
		email.Module,

		// Domains
		organization.Module,
		subscription.Module,
		grant.Module,
		usage.Module,
		usageperiod.Module,
		consumption.Module,
		alert.Module,
		billingsync.Module,
		reporter.Module,

		// Background jobs and HTTP surface
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
