package telemetry

import (
	"context"

	"go.uber.org/fx"

	"github.com/achievio/badgehunter/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewMetrics),
		fx.Invoke(func(lc fx.Lifecycle, cfg config.Config) error {
			if !cfg.Telemetry.Enabled {
				return nil
			}
			shutdown, err := Init(cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
				return shutdown(ctx)
			}})
			return nil
		}),
	)
}
