package migrate

import (
	"context"
	"fmt"

	"github.com/lastbite/lastbite-backend/pkg/config"
	"github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on boot, but only in dev with auto-migrate on.
// SQLite gets the embedded schema since goose only targets Postgres here.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || client == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"event": "migrate.autorun", "driver": cfg.DB.Driver})

	if cfg.DB.Driver == db.DriverSQLite {
		if err := ApplySQLiteSchema(ctx, client.DB()); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
		logg.Info(ctx, "sqlite schema applied")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return err
	}
	logg.Info(ctx, "schema migrated")
	return nil
}
