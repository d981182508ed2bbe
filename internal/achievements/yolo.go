package achievements

import (
	"context"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

// Yolo is the one-shot: open a pull request, request a review, then merge
// without waiting for it. One completed merge finishes the workflow for
// good; reruns are no-ops.
type Yolo struct {
	env engine.Env
	cfg config.WorkflowConfig
}

func NewYolo(env engine.Env, cfg config.WorkflowConfig) engine.Workflow {
	return &Yolo{env: env, cfg: cfg}
}

func (w *Yolo) Name() string      { return config.WorkflowYolo }
func (w *Yolo) Thresholds() []int { return nil }

// reviewer prefers the configured login and falls back to the second
// account when one is wired up.
func (w *Yolo) reviewer() string {
	if w.cfg.Reviewer != "" {
		return w.cfg.Reviewer
	}
	if w.env.Secondary != nil {
		return w.env.Secondary.Login()
	}
	return ""
}

func (w *Yolo) Next(rec progress.Record) (engine.Next, error) {
	if rec.Completed {
		return engine.Next{Done: true}, nil
	}
	if w.reviewer() == "" {
		return engine.Next{Blocked: "a reviewer login is required to request a review before merging"}, nil
	}
	return engine.Next{Step: w.mergeStep()}, nil
}

func (w *Yolo) mergeStep() *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowYolo, "merge-bypass"),
		Run: func(ctx context.Context) (engine.Delta, error) {
			repo := w.env.Repo
			const branch = "yolo-merge"

			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.ensure_repo", func(ctx context.Context) error {
				_, err := w.env.Primary.EnsureRepo(ctx, repo, w.env.RepoOpts)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			var base, baseSHA string
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.base", func(ctx context.Context) error {
				var err error
				base, baseSHA, err = w.env.Primary.DefaultBranch(ctx, repo)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.branch", func(ctx context.Context) error {
				return ensureBranch(ctx, w.env.Primary, repo, branch, baseSHA)
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.commit", func(ctx context.Context) error {
				_, err := w.env.Primary.PutFile(ctx, repo, github.PutFileInput{
					Path:    "yolo.txt",
					Message: "Merge without waiting for review",
					Content: "merged with a review still pending\n",
					Branch:  branch,
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			var pull *github.Pull
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.pull", func(ctx context.Context) error {
				var err error
				pull, err = openOrFindPull(ctx, w.env.Primary, repo, github.PullInput{
					Title: "Living dangerously",
					Body:  "This pull request is merged while its review request is still open.",
					Base:  base,
					Head:  branch,
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.request_review", func(ctx context.Context) error {
				return w.env.Primary.RequestReview(ctx, repo, pull.Number, w.reviewer())
			})
			if err != nil {
				return engine.Delta{}, err
			}

			// The point of the exercise: merge while the review is pending.
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.merge", func(ctx context.Context) error {
				return w.env.Primary.MergePull(ctx, repo, pull.Number, github.MergeInput{Method: "merge"})
			})
			if err != nil {
				return engine.Delta{}, err
			}

			_ = w.env.Exec(ctx, ratelimit.AccountPrimary, "yolo.cleanup", func(ctx context.Context) error {
				err := w.env.Primary.DeleteBranch(ctx, repo, branch)
				if github.IsNotFound(err) {
					return nil
				}
				return err
			})

			return engine.Delta{
				CountDelta: 1,
				Completed:  true,
				Detail:     map[string]string{"pull_url": pull.URL},
			}, nil
		},
	}
}
