package achievements

import (
	"context"
	"fmt"
	"strings"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
	"github.com/achievio/badgehunter/internal/retry"
)

const pairDetailCollaborator = "secondary_collaborator"

// PairExtraordinaire merges pull requests whose commits carry a
// Co-authored-by trailer, alternating which identity authors and which one
// is credited so both accounts accumulate the badge.
type PairExtraordinaire struct {
	env engine.Env
	cfg config.WorkflowConfig
}

func NewPairExtraordinaire(env engine.Env, cfg config.WorkflowConfig) engine.Workflow {
	return &PairExtraordinaire{env: env, cfg: cfg}
}

func (w *PairExtraordinaire) Name() string      { return config.WorkflowPairExtraordinaire }
func (w *PairExtraordinaire) Thresholds() []int { return w.cfg.Thresholds }

func (w *PairExtraordinaire) Next(rec progress.Record) (engine.Next, error) {
	if rec.Completed || rec.Count >= target(w.cfg.Thresholds) {
		return engine.Next{Done: true}, nil
	}
	if w.env.Secondary == nil {
		return engine.Next{Blocked: "a second account is required for co-authored commits"}, nil
	}
	if rec.Detail[pairDetailCollaborator] != "ok" {
		return engine.Next{Step: w.inviteStep()}, nil
	}
	return engine.Next{Step: w.commitStep(rec.Count + 1)}, nil
}

// inviteStep makes the second account a collaborator and verifies it took.
func (w *PairExtraordinaire) inviteStep() *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowPairExtraordinaire, "invite"),
		Run: func(ctx context.Context) (engine.Delta, error) {
			repo := w.env.Repo
			secondary := w.env.Secondary.Login()

			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.ensure_repo", func(ctx context.Context) error {
				_, err := w.env.Primary.EnsureRepo(ctx, repo, w.env.RepoOpts)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			var present bool
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.check_collaborator", func(ctx context.Context) error {
				var err error
				present, err = w.isCollaborator(ctx, secondary)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			if !present {
				err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.invite", func(ctx context.Context) error {
					return w.env.Primary.InviteCollaborator(ctx, repo, secondary)
				})
				if err != nil {
					return engine.Delta{}, err
				}
				err = w.env.Exec(ctx, ratelimit.AccountSecondary, "pair.accept", func(ctx context.Context) error {
					return w.env.Secondary.AcceptInvitations(ctx, repo.Owner)
				})
				if err != nil {
					return engine.Delta{}, err
				}
				err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.verify", func(ctx context.Context) error {
					var err error
					present, err = w.isCollaborator(ctx, secondary)
					return err
				})
				if err != nil {
					return engine.Delta{}, err
				}
			}
			if !present {
				return engine.Delta{}, retry.Fatal(retry.ClassPrecondition,
					fmt.Errorf("%s did not become a collaborator on %s", secondary, repo))
			}
			return engine.Delta{Detail: map[string]string{pairDetailCollaborator: "ok"}}, nil
		},
	}
}

func (w *PairExtraordinaire) isCollaborator(ctx context.Context, login string) (bool, error) {
	collaborators, err := w.env.Primary.ListCollaborators(ctx, w.env.Repo)
	if err != nil {
		return false, err
	}
	for _, c := range collaborators {
		if strings.EqualFold(c, login) {
			return true, nil
		}
	}
	return false, nil
}

// commitStep produces co-authored commit number n and merges it through a
// pull request. Odd commits are authored by the primary account with the
// secondary credited, even commits the other way around.
func (w *PairExtraordinaire) commitStep(n int) *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowPairExtraordinaire, fmt.Sprintf("commit-%d", n)),
		Run: func(ctx context.Context) (engine.Delta, error) {
			repo := w.env.Repo
			branch := fmt.Sprintf("pair-%d", n)

			author, coAuthor := w.env.Primary, w.env.Secondary
			authorAccount := ratelimit.AccountPrimary
			if n%2 == 0 {
				author, coAuthor = w.env.Secondary, w.env.Primary
				authorAccount = ratelimit.AccountSecondary
			}

			var base, baseSHA string
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.base", func(ctx context.Context) error {
				var err error
				base, baseSHA, err = w.env.Primary.DefaultBranch(ctx, repo)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.branch", func(ctx context.Context) error {
				return ensureBranch(ctx, w.env.Primary, repo, branch, baseSHA)
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, authorAccount, "pair.commit", func(ctx context.Context) error {
				_, err := author.PutFile(ctx, repo, github.PutFileInput{
					Path:    fmt.Sprintf("pair-commits/commit-%d.txt", n),
					Message: fmt.Sprintf("Pair session %d", n),
					Content: fmt.Sprintf("pair session %d by %s and %s\n", n, author.Login(), coAuthor.Login()),
					Branch:  branch,
					CoAuthor: &github.CoAuthor{
						Name:  coAuthor.Login(),
						Email: fmt.Sprintf("%s@users.noreply.github.com", coAuthor.Login()),
					},
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			var pull *github.Pull
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.pull", func(ctx context.Context) error {
				var err error
				pull, err = openOrFindPull(ctx, w.env.Primary, repo, github.PullInput{
					Title: fmt.Sprintf("Pair session %d", n),
					Body:  fmt.Sprintf("Co-authored work by %s and %s.", author.Login(), coAuthor.Login()),
					Base:  base,
					Head:  branch,
				})
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}

			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.merge", func(ctx context.Context) error {
				return w.env.Primary.MergePull(ctx, repo, pull.Number, github.MergeInput{
					Method: "merge",
				})
			})
			if err != nil {
				return engine.Delta{}, err
			}

			_ = w.env.Exec(ctx, ratelimit.AccountPrimary, "pair.cleanup", func(ctx context.Context) error {
				err := w.env.Primary.DeleteBranch(ctx, repo, branch)
				if github.IsNotFound(err) {
					return nil
				}
				return err
			})

			if d := w.cfg.StepDelay.Std(); d > 0 {
				if err := w.env.Clock.Sleep(ctx, d); err != nil {
					return engine.Delta{}, err
				}
			}
			return engine.Delta{
				CountDelta: 1,
				Completed:  n >= target(w.cfg.Thresholds),
			}, nil
		},
	}
}
