package retry

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/telemetry"
)

func Module() fx.Option {
	return fx.Provide(func(limiter *ratelimit.Limiter, metrics *telemetry.Metrics, log *zap.Logger) *Policy {
		return NewPolicy(limiter, log.Named("retry"),
			WithRetryHook(metrics.RetryAttempt))
	})
}
