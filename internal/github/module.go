package github

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/telemetry"
)

// Clients bundles the two authenticated identities. Secondary is nil when
// no second account is configured; workflows that need one report themselves
// blocked instead of failing.
type Clients struct {
	Primary   Client
	Secondary Client
}

func NewClients(cfg config.Config, limiter *ratelimit.Limiter, metrics *telemetry.Metrics, log *zap.Logger) Clients {
	if cfg.DryRun {
		secondary := cfg.Accounts.Secondary.Username
		if secondary == "" {
			secondary = "dry-run-secondary"
		}
		return Clients{
			Primary:   NewDryRunClient(cfg.Accounts.Primary.Username, log),
			Secondary: NewDryRunClient(secondary, log),
		}
	}

	report := func(account ratelimit.Account, snap ratelimit.Snapshot) {
		metrics.RequestIssued(string(account))
		limiter.Observe(account, snap)
	}
	clients := Clients{
		Primary: NewClient(Credential{
			Username: cfg.Accounts.Primary.Username,
			Token:    cfg.Accounts.Primary.Token,
			BaseURL:  cfg.Repository.APIBaseURL,
		}, ratelimit.AccountPrimary, report, log.Named("github.primary")),
	}
	if cfg.Accounts.Secondary.Configured() {
		clients.Secondary = NewClient(Credential{
			Username: cfg.Accounts.Secondary.Username,
			Token:    cfg.Accounts.Secondary.Token,
			BaseURL:  cfg.Repository.APIBaseURL,
		}, ratelimit.AccountSecondary, report, log.Named("github.secondary"))
	}
	return clients
}

// preflight validates each token against its configured account and seeds
// the limiter with the authoritative server budget, so the first workflow
// step starts from real numbers rather than a blind guess.
func preflight(ctx context.Context, clients Clients, limiter *ratelimit.Limiter, log *zap.Logger) error {
	accounts := []struct {
		account ratelimit.Account
		client  Client
	}{
		{ratelimit.AccountPrimary, clients.Primary},
		{ratelimit.AccountSecondary, clients.Secondary},
	}
	for _, entry := range accounts {
		if entry.client == nil {
			continue
		}
		if err := entry.client.Validate(ctx); err != nil {
			return fmt.Errorf("validate %s credential: %w", entry.account, err)
		}
		snap, err := entry.client.RateLimit(ctx)
		if err != nil {
			return fmt.Errorf("query %s rate limit: %w", entry.account, err)
		}
		limiter.Observe(entry.account, snap)
		log.Info("credential validated",
			zap.String("account", string(entry.account)),
			zap.String("login", entry.client.Login()),
			zap.Int("remaining", snap.Remaining))
	}
	return nil
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewClients),
		fx.Invoke(func(lc fx.Lifecycle, clients Clients, limiter *ratelimit.Limiter, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return preflight(ctx, clients, limiter, log.Named("github"))
				},
			})
		}),
	)
}
