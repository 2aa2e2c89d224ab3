package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(runOnBoot),
)

// runOnBoot migrates for postgres only. Tests and local sqlite runs build
// their schema directly.
func runOnBoot(conn *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")
	if name := conn.Dialector.Name(); name != "postgres" {
		log.Warn("schema migrations skipped for dialect", zap.String("dialect", name))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	status, err := Up(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema ready",
		zap.Uint("version", status.Version),
		zap.Bool("changed", status.Changed),
		zap.Bool("dirty", status.Dirty),
	)
	return nil
}
