// Package achievements holds the five workflow implementations the engine
// drives. Each one derives its next step purely from the persisted progress
// record, so a crashed or interrupted run picks up exactly where the last
// committed step left it.
package achievements

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/retry"
)

// New assembles the enabled workflows in a fixed order.
func New(cfg config.Config, clients github.Clients, policy *retry.Policy, clk clock.Clock, log *zap.Logger) []engine.Workflow {
	owner := cfg.Repository.Owner
	if owner == "" {
		owner = cfg.Accounts.Primary.Username
	}
	env := engine.Env{
		Primary:   clients.Primary,
		Secondary: clients.Secondary,
		Repo:      github.RepoRef{Owner: owner, Name: cfg.Repository.Name},
		RepoOpts: github.RepoOptions{
			Description: "Workbench repository managed by badgehunter",
			Private:     cfg.Repository.Private,
			AutoInit:    true,
		},
		Exec: func(ctx context.Context, account ratelimit.Account, name string, op func(context.Context) error) error {
			return policy.Do(ctx, account, name, op)
		},
		Clock: clk,
		Log:   log.Named("achievements"),
	}

	var out []engine.Workflow
	add := func(name string, build func(engine.Env, config.WorkflowConfig) engine.Workflow) {
		wf := cfg.Workflow(name)
		if wf.Enabled {
			out = append(out, build(env, wf))
		}
	}
	add(config.WorkflowPullShark, NewPullShark)
	add(config.WorkflowQuickdraw, NewQuickdraw)
	add(config.WorkflowPairExtraordinaire, NewPairExtraordinaire)
	add(config.WorkflowGalaxyBrain, NewGalaxyBrain)
	add(config.WorkflowYolo, NewYolo)
	return out
}

func Module() fx.Option {
	return fx.Provide(New)
}

// target is the count at which a thresholded workflow is finished.
func target(thresholds []int) int {
	if len(thresholds) == 0 {
		return 1
	}
	return thresholds[len(thresholds)-1]
}

// ensureBranch creates a branch and treats "already exists" as success, so a
// replayed step after a crash does not trip over its own earlier work.
func ensureBranch(ctx context.Context, client github.Client, repo github.RepoRef, name, sha string) error {
	err := client.CreateBranch(ctx, repo, name, sha)
	if err != nil && !github.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// openOrFindPull reuses an open pull request for head when a replayed step
// already created one.
func openOrFindPull(ctx context.Context, client github.Client, repo github.RepoRef, in github.PullInput) (*github.Pull, error) {
	pull, err := client.CreatePull(ctx, repo, in)
	if err == nil {
		return pull, nil
	}
	if !github.IsAlreadyExists(err) {
		return nil, err
	}
	existing, ferr := client.FindPull(ctx, repo, in.Head)
	if ferr != nil {
		return nil, ferr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func stepID(workflow, step string) string {
	return fmt.Sprintf("%s/%s", workflow, step)
}
