package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/db"
	"fieldops-dispatch/pkg/featureflags"
	"fieldops-dispatch/pkg/hashistack/secretmanager"
	"fieldops-dispatch/pkg/health"
	"fieldops-dispatch/pkg/httpapi"
	"fieldops-dispatch/pkg/logger"
	"fieldops-dispatch/pkg/otelcol"
	"fieldops-dispatch/pkg/profiling"
	"fieldops-dispatch/pkg/redis"
	"fieldops-dispatch/pkg/sequence"
	"fieldops-dispatch/pkg/server"
	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/services/assignment"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/broadcast"
	"fieldops-dispatch/services/location"
	"fieldops-dispatch/services/matching"
	"fieldops-dispatch/services/notification"
	"fieldops-dispatch/services/settlement"
	"fieldops-dispatch/services/technician"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		featureflags.Module,
		health.Module,
		httpapi.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		technician.Module,
		technician.Gateway,
		notification.Module,
		matching.Module,
		booking.Module,
		booking.Gateway,
		broadcast.Module,
		broadcast.Gateway,
		assignment.Module,
		assignment.Gateway,
		location.Module,
		location.Gateway,
		settlement.Module,
		settlement.Gateway,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
