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
	"fieldops-dispatch/pkg/logger"
	"fieldops-dispatch/pkg/otelcol"
	"fieldops-dispatch/pkg/redis"
	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/notification"
	"fieldops-dispatch/services/settlement"
	"fieldops-dispatch/services/technician"
)

// The worker drains the asynq queues: notification delivery, verified
// payments and settlement retries.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		featureflags.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		technician.Module,
		notification.Module,
		notification.Worker,
		booking.Module,
		settlement.Module,
		settlement.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
