package app

import (
	"context"
	"errors"

	"market-watcher/internal/storage"
)

// SetWorkerEnabled flips the shared pause flag. Running workers pick it up
// before their next listing.
func (a *App) SetWorkerEnabled(ctx context.Context, enabled bool) error {
	store, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetWorkerEnabled(ctx, enabled); err != nil {
		return err
	}
	a.Logger.Info().Bool("enabled", enabled).Msg("worker flag updated")
	return nil
}

// Migrate applies pending schema migrations and returns their names.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database not configured; set database.dsn")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool)
	defer store.Close()

	return store.RunMigrations(ctx)
}
