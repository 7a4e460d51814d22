package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module runs pending schema migrations during application start, before
// any other component touches the database.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
