package ratelimit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/telemetry"
)

func Module() fx.Option {
	return fx.Provide(func(cfg config.Config, metrics *telemetry.Metrics, log *zap.Logger) *Limiter {
		return New(cfg.RateLimit.Buffer, log.Named("ratelimit"),
			WithMinInterval(cfg.RateLimit.MinInterval.Std()),
			WithWaitHook(metrics.LimiterWait))
	})
}
