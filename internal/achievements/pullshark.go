package achievements

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

const (
	pullSharkCounterPath = "counter.txt"
	pullSharkDetailInit  = "initialized"
)

// PullShark merges pull requests until the final threshold is reached. Each
// merge bumps a counter file on its own branch, opens a pull request and
// squash-merges it; pacing delays keep the burst profile flat.
type PullShark struct {
	env engine.Env
	cfg config.WorkflowConfig
}

func NewPullShark(env engine.Env, cfg config.WorkflowConfig) engine.Workflow {
	return &PullShark{env: env, cfg: cfg}
}

func (w *PullShark) Name() string      { return config.WorkflowPullShark }
func (w *PullShark) Thresholds() []int { return w.cfg.Thresholds }

func (w *PullShark) Next(rec progress.Record) (engine.Next, error) {
	if rec.Completed || rec.Count >= target(w.cfg.Thresholds) {
		return engine.Next{Done: true}, nil
	}
	if rec.Detail[pullSharkDetailInit] != "true" {
		return engine.Next{Step: w.initStep()}, nil
	}
	return engine.Next{Step: w.mergeStep(rec.Count + 1)}, nil
}

// initStep makes sure the repository and the counter file exist.
func (w *PullShark) initStep() *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowPullShark, "init"),
		Run: func(ctx context.Context) (engine.Delta, error) {
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.ensure_repo", func(ctx context.Context) error {
				_, err := w.env.Primary.EnsureRepo(ctx, w.env.Repo, w.env.RepoOpts)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.seed_counter", func(ctx context.Context) error {
				_, err := w.env.Primary.GetFile(ctx, w.env.Repo, pullSharkCounterPath, "")
				if github.IsNotFound(err) {
					_, err = w.env.Primary.PutFile(ctx, w.env.Repo, github.PutFileInput{
						Path:    pullSharkCounterPath,
						Message: "Seed merge counter",
						Content: "0\n",
					})
				}
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			return engine.Delta{Detail: map[string]string{pullSharkDetailInit: "true"}}, nil
		},
	}
}

// mergeStep performs merge number n end to end. Branch and pull creation
// tolerate leftovers from an interrupted earlier attempt of the same n.
func (w *PullShark) mergeStep(n int) *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowPullShark, fmt.Sprintf("merge-%d", n)),
		Run: func(ctx context.Context) (engine.Delta, error) {
			repo := w.env.Repo
			branch := fmt.Sprintf("pull-shark-%d", n)

			var base, baseSHA string
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.base", func(ctx context.Context) error {
				var err error
				base, baseSHA, err = w.env.Primary.DefaultBranch(ctx, repo)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.branch", func(ctx context.Context) error {
				return ensureBranch(ctx, w.env.Primary, repo, branch, baseSHA)
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.bump", func(ctx context.Context) error {
				current, err := w.env.Primary.GetFile(ctx, repo, pullSharkCounterPath, branch)
				if err != nil {
					return err
				}
				if parsed, perr := strconv.Atoi(strings.TrimSpace(current.Content)); perr == nil && parsed >= n {
					// An earlier attempt of this step already bumped it.
					return nil
				}
				_, err = w.env.Primary.PutFile(ctx, repo, github.PutFileInput{
					Path:    pullSharkCounterPath,
					Message: fmt.Sprintf("Bump merge counter to %d", n),
					Content: fmt.Sprintf("%d\n", n),
					Branch:  branch,
					SHA:     current.SHA,
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			var pull *github.Pull
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.pull", func(ctx context.Context) error {
				var err error
				pull, err = openOrFindPull(ctx, w.env.Primary, repo, github.PullInput{
					Title: fmt.Sprintf("Merge counter update %d", n),
					Body:  "Automated counter bump.",
					Base:  base,
					Head:  branch,
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.merge", func(ctx context.Context) error {
				return w.env.Primary.MergePull(ctx, repo, pull.Number, github.MergeInput{
					Method:      "squash",
					CommitTitle: fmt.Sprintf("Merge counter update %d", n),
				})
			})
			if err != nil {
				return engine.Delta{}, err
			}

			// Cleanup is best effort: a stale branch costs nothing.
			_ = w.env.Exec(ctx, ratelimit.AccountPrimary, "pull_shark.cleanup", func(ctx context.Context) error {
				err := w.env.Primary.DeleteBranch(ctx, repo, branch)
				if github.IsNotFound(err) {
					return nil
				}
				return err
			})

			if err := w.pace(ctx, n); err != nil {
				return engine.Delta{}, err
			}
			return engine.Delta{
				CountDelta: 1,
				Completed:  n >= target(w.cfg.Thresholds),
			}, nil
		},
	}
}

// pace applies the per-merge delay plus a longer pause between batches.
func (w *PullShark) pace(ctx context.Context, n int) error {
	if d := w.cfg.StepDelay.Std(); d > 0 {
		if err := w.env.Clock.Sleep(ctx, d); err != nil {
			return err
		}
	}
	if w.cfg.BatchSize > 0 && n%w.cfg.BatchSize == 0 && n < target(w.cfg.Thresholds) {
		if d := w.cfg.BatchDelay.Std(); d > 0 {
			w.env.Log.Info("batch complete, pausing",
				zap.Int("merges", n), zap.Duration("delay", d))
			if err := w.env.Clock.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}
