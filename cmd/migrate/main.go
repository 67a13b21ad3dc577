package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/db"
	"fieldops-dispatch/pkg/hashistack/secretmanager"
	"fieldops-dispatch/pkg/logger"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/broadcast"
	"fieldops-dispatch/services/settlement"
	"fieldops-dispatch/services/technician"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
		fx.NopLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func models() []any {
	var m []any
	m = append(m, technician.Models()...)
	m = append(m, &booking.Job{})
	m = append(m, broadcast.Models()...)
	m = append(m, settlement.Models()...)
	return m
}

func migrate(lc fx.Lifecycle, conn *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conn.WithContext(ctx).AutoMigrate(models()...); err != nil {
				return err
			}
			zap.L().Info("schema migrated")

			n, err := technician.MigrateLegacySkills(ctx, conn)
			if err != nil {
				return err
			}
			zap.L().Info("legacy skills migrated", zap.Int("profiles", n))
			return nil
		},
	})
}
