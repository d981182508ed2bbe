package logging

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(func(lc fx.Lifecycle, cfg config.Config) *Notifier {
			notifier := NewNotifier(cfg.Notify.WebhookURL)
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				notifier.Close()
				return nil
			}})
			return notifier
		}),
		fx.Provide(func(cfg config.Config, notifier *Notifier) (*zap.Logger, error) {
			zcfg := zap.NewProductionConfig()
			if cfg.DryRun {
				zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			logger, err := zcfg.Build()
			if err != nil {
				return nil, err
			}
			return attachNotifier(logger, notifier), nil
		}),
	)
}
