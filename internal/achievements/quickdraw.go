package achievements

import (
	"context"
	"fmt"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/retry"
)

// Quickdraw opens an issue and closes it again inside the time limit. The
// window is measured across both remote calls, so rate-limit waits count
// against it; blowing the limit is final for this run because the pair
// cannot be un-created.
type Quickdraw struct {
	env engine.Env
	cfg config.WorkflowConfig
}

func NewQuickdraw(env engine.Env, cfg config.WorkflowConfig) engine.Workflow {
	return &Quickdraw{env: env, cfg: cfg}
}

func (w *Quickdraw) Name() string      { return config.WorkflowQuickdraw }
func (w *Quickdraw) Thresholds() []int { return nil }

func (w *Quickdraw) Next(rec progress.Record) (engine.Next, error) {
	if rec.Completed {
		return engine.Next{Done: true}, nil
	}
	return engine.Next{Step: w.issueStep()}, nil
}

func (w *Quickdraw) issueStep() *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowQuickdraw, "issue"),
		Run: func(ctx context.Context) (engine.Delta, error) {
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "quickdraw.ensure_repo", func(ctx context.Context) error {
				_, err := w.env.Primary.EnsureRepo(ctx, w.env.Repo, w.env.RepoOpts)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			limit := w.cfg.TimeLimit.Std()
			started := w.env.Clock.Now()

			var issueNumber int
			var issueURL string
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "quickdraw.open", func(ctx context.Context) error {
				issue, err := w.env.Primary.CreateIssue(ctx, w.env.Repo,
					"Quick check-in", "Opened and closed by an automated run.")
				if err != nil {
					return err
				}
				issueNumber = issue.Number
				issueURL = issue.URL
				return nil
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "quickdraw.close", func(ctx context.Context) error {
				return w.env.Primary.CloseIssue(ctx, w.env.Repo, issueNumber)
			})
			if err != nil {
				return engine.Delta{}, err
			}

			if elapsed := w.env.Clock.Now().Sub(started); limit > 0 && elapsed > limit {
				return engine.Delta{}, retry.Fatal(retry.ClassDeadline,
					fmt.Errorf("issue #%d closed after %s, limit is %s", issueNumber, elapsed, limit))
			}
			return engine.Delta{
				CountDelta: 1,
				Completed:  true,
				Detail:     map[string]string{"issue_url": issueURL},
			}, nil
		},
	}
}
