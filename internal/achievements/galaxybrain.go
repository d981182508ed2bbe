package achievements

import (
	"context"
	"fmt"
	"strconv"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

const (
	galaxyDetailRepoNode   = "discussion_repo_node"
	galaxyDetailCategory   = "discussion_category"
	galaxyDetailEnabled    = "discussions_enabled"
	galaxyDetailDiscussion = "cycle_discussion_id"
	galaxyDetailNumber     = "cycle_discussion_number"
	galaxyDetailComment    = "cycle_comment_id"
)

// GalaxyBrain runs question-and-answer cycles through the discussions API:
// the primary account asks, the secondary answers, the primary marks the
// answer accepted. Only the accepted answer advances the count, so a crash
// mid-cycle resumes at the exact sub-step that had not happened yet.
type GalaxyBrain struct {
	env engine.Env
	cfg config.WorkflowConfig

	// checkedSetup stops Next from handing out the setup step twice in
	// one run when discussions turn out to be disabled.
	checkedSetup bool
}

func NewGalaxyBrain(env engine.Env, cfg config.WorkflowConfig) engine.Workflow {
	return &GalaxyBrain{env: env, cfg: cfg}
}

func (w *GalaxyBrain) Name() string      { return config.WorkflowGalaxyBrain }
func (w *GalaxyBrain) Thresholds() []int { return w.cfg.Thresholds }

func (w *GalaxyBrain) Next(rec progress.Record) (engine.Next, error) {
	if rec.Completed || rec.Count >= target(w.cfg.Thresholds) {
		return engine.Next{Done: true}, nil
	}
	if w.env.Secondary == nil {
		return engine.Next{Blocked: "a second account is required to answer discussions"}, nil
	}
	needSetup := rec.Detail[galaxyDetailCategory] == "" || rec.Detail[galaxyDetailEnabled] != "true"
	if needSetup {
		if w.checkedSetup {
			return engine.Next{Blocked: fmt.Sprintf(
				"discussions are disabled on %s; enable them and run again", w.env.Repo)}, nil
		}
		return engine.Next{Step: w.setupStep()}, nil
	}

	cycle := rec.Count + 1
	info := github.DiscussionInfo{
		RepoNodeID: rec.Detail[galaxyDetailRepoNode],
		CategoryID: rec.Detail[galaxyDetailCategory],
		Enabled:    true,
	}
	switch {
	case rec.Detail[galaxyDetailDiscussion] == "":
		return engine.Next{Step: w.questionStep(cycle, info)}, nil
	case rec.Detail[galaxyDetailComment] == "":
		return engine.Next{Step: w.answerStep(cycle, rec.Detail[galaxyDetailDiscussion])}, nil
	default:
		return engine.Next{Step: w.acceptStep(cycle, rec.Detail[galaxyDetailComment])}, nil
	}
}

// setupStep checks discussions availability and records the category to use.
func (w *GalaxyBrain) setupStep() *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowGalaxyBrain, "setup"),
		Run: func(ctx context.Context) (engine.Delta, error) {
			w.checkedSetup = true
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "galaxy_brain.ensure_repo", func(ctx context.Context) error {
				_, err := w.env.Primary.EnsureRepo(ctx, w.env.Repo, w.env.RepoOpts)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			var info *github.DiscussionInfo
			err = w.env.Exec(ctx, ratelimit.AccountPrimary, "galaxy_brain.inspect", func(ctx context.Context) error {
				var err error
				info, err = w.env.Primary.Discussions(ctx, w.env.Repo)
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			if !info.Enabled || info.CategoryID == "" {
				return engine.Delta{Detail: map[string]string{galaxyDetailEnabled: "false"}}, nil
			}
			return engine.Delta{Detail: map[string]string{
				galaxyDetailEnabled:  "true",
				galaxyDetailRepoNode: info.RepoNodeID,
				galaxyDetailCategory: info.CategoryID,
			}}, nil
		},
	}
}

func (w *GalaxyBrain) questionStep(cycle int, info github.DiscussionInfo) *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowGalaxyBrain, fmt.Sprintf("cycle-%d/question", cycle)),
		Run: func(ctx context.Context) (engine.Delta, error) {
			var discussion *github.Discussion
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "galaxy_brain.question", func(ctx context.Context) error {
				var err error
				discussion, err = w.env.Primary.CreateDiscussion(ctx, info,
					fmt.Sprintf("Question %d: what is the answer?", cycle),
					fmt.Sprintf("Round %d of an automated question and answer exchange.", cycle))
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			if err := w.pace(ctx); err != nil {
				return engine.Delta{}, err
			}
			return engine.Delta{Detail: map[string]string{
				galaxyDetailDiscussion: discussion.ID,
				galaxyDetailNumber:     strconv.Itoa(discussion.Number),
			}}, nil
		},
	}
}

func (w *GalaxyBrain) answerStep(cycle int, discussionID string) *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowGalaxyBrain, fmt.Sprintf("cycle-%d/answer", cycle)),
		Run: func(ctx context.Context) (engine.Delta, error) {
			var commentID string
			err := w.env.Exec(ctx, ratelimit.AccountSecondary, "galaxy_brain.answer", func(ctx context.Context) error {
				var err error
				commentID, err = w.env.Secondary.AddDiscussionComment(ctx, discussionID,
					fmt.Sprintf("Here is the answer for round %d.", cycle))
				return err
			})
			if err != nil {
				return engine.Delta{}, err
			}
			if err := w.pace(ctx); err != nil {
				return engine.Delta{}, err
			}
			return engine.Delta{Detail: map[string]string{galaxyDetailComment: commentID}}, nil
		},
	}
}

// acceptStep finishes the cycle: the count moves and the cycle-scoped keys
// are cleared in the same commit.
func (w *GalaxyBrain) acceptStep(cycle int, commentID string) *engine.Step {
	return &engine.Step{
		ID: stepID(config.WorkflowGalaxyBrain, fmt.Sprintf("cycle-%d/accept", cycle)),
		Run: func(ctx context.Context) (engine.Delta, error) {
			err := w.env.Exec(ctx, ratelimit.AccountPrimary, "galaxy_brain.accept", func(ctx context.Context) error {
				return w.env.Primary.MarkDiscussionAnswer(ctx, commentID)
			})
			if err != nil {
				return engine.Delta{}, err
			}
			if err := w.pace(ctx); err != nil {
				return engine.Delta{}, err
			}
			return engine.Delta{
				CountDelta: 1,
				Completed:  cycle >= target(w.cfg.Thresholds),
				Detail: map[string]string{
					galaxyDetailDiscussion: "",
					galaxyDetailNumber:     "",
					galaxyDetailComment:    "",
				},
			}, nil
		},
	}
}

func (w *GalaxyBrain) pace(ctx context.Context) error {
	if d := w.cfg.StepDelay.Std(); d > 0 {
		return w.env.Clock.Sleep(ctx, d)
	}
	return nil
}
