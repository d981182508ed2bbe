package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/github"
	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

// Delta is what one executed step contributes to the durable record.
type Delta struct {
	CountDelta int
	Completed  bool
	// Detail entries merge into the record; an empty value deletes the key.
	Detail map[string]string
}

// Step is one remote unit of work. The runner commits its Delta before
// asking the workflow for the next step, so a crash replays at most the
// step that was in flight.
type Step struct {
	ID  string
	Run func(ctx context.Context) (Delta, error)
}

// Next is a workflow's answer to "given this record, what now?".
type Next struct {
	Step *Step
	// Done means there is nothing left to do.
	Done bool
	// Blocked carries a human-readable reason the workflow cannot proceed
	// right now (missing second account, discussions disabled). The runner
	// reports it and moves on without failing the run.
	Blocked string
}

// Workflow decides steps purely from the persisted record, which is what
// makes resumption after a crash a non-event.
type Workflow interface {
	Name() string
	Thresholds() []int
	Next(rec progress.Record) (Next, error)
}

// Env is everything a workflow needs to build its steps.
type Env struct {
	Primary   github.Client
	Secondary github.Client
	Repo      github.RepoRef
	RepoOpts  github.RepoOptions
	// Exec routes one remote operation through the rate limiter and retry
	// policy for the given account.
	Exec  func(ctx context.Context, account ratelimit.Account, name string, op func(context.Context) error) error
	Clock clock.Clock
	Log   *zap.Logger
}
