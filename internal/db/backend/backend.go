// Package backend opens the store selected by the database configuration.
package backend

import (
	"context"
	"fmt"
	"log"

	"attendbot/internal/config"
	"attendbot/internal/db"
	"attendbot/internal/db/postgres"
	"attendbot/internal/db/sqlite"
)

// Open connects to the configured driver and brings its schema up to date.
func Open(ctx context.Context, cfg config.Database) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("Opened sqlite store at %s", cfg.Path)
		return store, nil
	case config.DriverPostgres, "":
		pg, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		applied, err := pg.Migrate(ctx)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		for _, name := range applied {
			log.Printf("Applied migration %s", name)
		}
		log.Printf("Connected to postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
