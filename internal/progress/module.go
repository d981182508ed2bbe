package progress

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
)

func Module() fx.Option {
	return fx.Provide(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Store, error) {
		var (
			store Store
			err   error
		)
		switch {
		case cfg.DryRun:
			store = NewMemStore()
		case cfg.Store.Backend == "postgres":
			store, err = NewPGStore(cfg.Store.Postgres.DSN)
		case cfg.Store.Backend == "file":
			store, err = NewFileStore(cfg.Store.Path, cfg.Store.BackupDir, log.Named("progress"))
		default:
			err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
		}
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close(ctx)
			},
		})
		return store, nil
	})
}
