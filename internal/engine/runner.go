package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/retry"
)

type Status string

const (
	// StatusCompleted means the workflow has nothing left to do.
	StatusCompleted Status = "completed"
	// StatusBlocked means the workflow needs outside help before it can
	// continue, but nothing is wrong with its state.
	StatusBlocked Status = "blocked"
	// StatusStopped means the run ended on an error.
	StatusStopped Status = "stopped"
)

// Result is the terminal outcome of driving one workflow as far as it goes.
type Result struct {
	Workflow string
	Status   Status
	Blocked  string
	Err      error
	// Resumable distinguishes "fix something and run again" from "this
	// run can never satisfy the workflow" (a missed deadline, rejected
	// input). Only meaningful when Status is StatusStopped.
	Resumable bool
	Record    progress.Record
}

// Runner drives workflows step by step against the progress store. Each
// workflow failure is isolated: one stopping never prevents the others from
// running to their own conclusion.
type Runner struct {
	store    progress.Store
	log      *zap.Logger
	onResult func(Result)
}

type RunnerOption func(*Runner)

// WithResultHook registers a callback invoked with every terminal result.
func WithResultHook(fn func(Result)) RunnerOption {
	return func(r *Runner) { r.onResult = fn }
}

func NewRunner(store progress.Store, log *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{store: store, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes wf until it reports done or blocked, or a step fails
// terminally. The committed record advances after every successful step, so
// interrupting at any point loses at most the step in flight.
func (r *Runner) Run(ctx context.Context, wf Workflow) Result {
	log := r.log.With(zap.String("workflow", wf.Name()))

	rec, _, err := r.store.Load(ctx, wf.Name())
	if err != nil {
		return r.finish(log, Result{Workflow: wf.Name(), Status: StatusStopped, Err: err, Resumable: true})
	}
	if rec.Count > 0 || rec.LastStepID != "" {
		log.Info("resuming from saved progress",
			zap.Int("count", rec.Count),
			zap.String("last_step", rec.LastStepID))
	}

	for {
		next, err := wf.Next(rec)
		if err != nil {
			return r.finish(log, r.stopped(wf.Name(), rec, err))
		}
		if next.Blocked != "" {
			log.Warn("workflow blocked", zap.String("reason", next.Blocked))
			return r.finish(log, Result{Workflow: wf.Name(), Status: StatusBlocked, Blocked: next.Blocked, Record: rec})
		}
		if next.Done {
			log.Info("workflow complete", zap.Int("count", rec.Count))
			return r.finish(log, Result{Workflow: wf.Name(), Status: StatusCompleted, Record: rec})
		}

		step := next.Step
		if step == nil {
			err := fmt.Errorf("workflow %s returned neither a step, done nor blocked", wf.Name())
			return r.finish(log, Result{Workflow: wf.Name(), Status: StatusStopped, Err: err, Record: rec})
		}
		log.Debug("running step", zap.String("step", step.ID))
		delta, err := step.Run(ctx)
		if err != nil {
			return r.finish(log, r.stopped(wf.Name(), rec, err))
		}

		// The remote side effect happened; the commit must land even if
		// the run context was cancelled mid-step.
		commitCtx := context.WithoutCancel(ctx)
		before := rec.Count
		rec, err = r.store.Commit(commitCtx, wf.Name(), progress.Mutation{
			StepID:     step.ID,
			CountDelta: delta.CountDelta,
			Completed:  delta.Completed,
			Thresholds: wf.Thresholds(),
			Detail:     delta.Detail,
		})
		if err != nil {
			return r.finish(log, Result{Workflow: wf.Name(), Status: StatusStopped, Err: err, Resumable: true, Record: rec})
		}
		for _, milestone := range progress.Crossed(rec.Thresholds, before, rec.Count) {
			log.Info("milestone reached",
				zap.Int("threshold", milestone),
				zap.Int("count", rec.Count))
		}
		if err := ctx.Err(); err != nil {
			return r.finish(log, Result{Workflow: wf.Name(), Status: StatusStopped, Err: err, Resumable: true, Record: rec})
		}
	}
}

func (r *Runner) stopped(name string, rec progress.Record, err error) Result {
	res := Result{Workflow: name, Status: StatusStopped, Err: err, Resumable: true, Record: rec}
	var terminal *retry.Error
	if errors.As(err, &terminal) {
		res.Resumable = terminal.Resumable()
	}
	return res
}

func (r *Runner) finish(log *zap.Logger, res Result) Result {
	switch res.Status {
	case StatusStopped:
		if res.Resumable {
			log.Error("workflow stopped, run again to resume", zap.Error(res.Err))
		} else {
			log.Error("workflow stopped and cannot be resumed this run", zap.Error(res.Err))
		}
	}
	if r.onResult != nil {
		r.onResult(res)
	}
	return res
}
