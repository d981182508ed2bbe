package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/achievio/badgehunter/internal/progress"
	"github.com/achievio/badgehunter/internal/retry"
)

// countingWorkflow produces one counted step at a time until target.
type countingWorkflow struct {
	name       string
	target     int
	thresholds []int
	stepErr    func(stepNo int) error
	onRun      func(stepNo int, ctx context.Context)
}

func (w *countingWorkflow) Name() string       { return w.name }
func (w *countingWorkflow) Thresholds() []int  { return w.thresholds }
func (w *countingWorkflow) Next(rec progress.Record) (Next, error) {
	if rec.Count >= w.target {
		return Next{Done: true}, nil
	}
	stepNo := rec.Count + 1
	return Next{Step: &Step{
		ID: "counting/step",
		Run: func(ctx context.Context) (Delta, error) {
			if w.onRun != nil {
				w.onRun(stepNo, ctx)
			}
			if w.stepErr != nil {
				if err := w.stepErr(stepNo); err != nil {
					return Delta{}, err
				}
			}
			return Delta{CountDelta: 1}, nil
		},
	}}, nil
}

func TestRunnerDrivesWorkflowToCompletion(t *testing.T) {
	store := progress.NewMemStore()
	runner := NewRunner(store, zaptest.NewLogger(t))
	wf := &countingWorkflow{name: "counting", target: 3, thresholds: []int{2}}

	res := runner.Run(context.Background(), wf)
	assert.Equal(t, StatusCompleted, res.Status)

	rec, ok, err := store.Load(context.Background(), "counting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, []int{2}, rec.Thresholds)
	assert.Equal(t, 3, store.Commits(), "one commit per step")
}

func TestRunnerResumesWithoutRepeatingWork(t *testing.T) {
	ctx := context.Background()
	store := progress.NewMemStore()
	_, err := store.Commit(ctx, "counting", progress.Mutation{CountDelta: 2, StepID: "counting/step"})
	require.NoError(t, err)

	var started []int
	wf := &countingWorkflow{
		name:   "counting",
		target: 3,
		onRun:  func(stepNo int, _ context.Context) { started = append(started, stepNo) },
	}
	res := NewRunner(store, zaptest.NewLogger(t)).Run(ctx, wf)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []int{3}, started, "only the outstanding step runs")
}

func TestRunnerRerunOfCompletedWorkflowIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := progress.NewMemStore()
	runner := NewRunner(store, zaptest.NewLogger(t))
	wf := &countingWorkflow{name: "counting", target: 2}

	require.Equal(t, StatusCompleted, runner.Run(ctx, wf).Status)
	commits := store.Commits()

	res := runner.Run(ctx, wf)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, commits, store.Commits(), "no new commits on rerun")
}

func TestRunnerReportsBlocked(t *testing.T) {
	store := progress.NewMemStore()
	runner := NewRunner(store, zaptest.NewLogger(t))

	res := runner.Run(context.Background(), blockedWorkflow{})
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, "second account is not configured", res.Blocked)
	assert.Zero(t, store.Commits())
}

type blockedWorkflow struct{}

func (blockedWorkflow) Name() string      { return "blocked" }
func (blockedWorkflow) Thresholds() []int { return nil }
func (blockedWorkflow) Next(progress.Record) (Next, error) {
	return Next{Blocked: "second account is not configured"}, nil
}

func TestRunnerStoppedResumableOnTransientExhaustion(t *testing.T) {
	store := progress.NewMemStore()
	wf := &countingWorkflow{
		name:   "counting",
		target: 3,
		stepErr: func(stepNo int) error {
			if stepNo == 2 {
				return &retry.Error{Class: retry.ClassTransient, Attempts: 3, Err: errors.New("bad gateway")}
			}
			return nil
		},
	}
	res := NewRunner(store, zaptest.NewLogger(t)).Run(context.Background(), wf)
	assert.Equal(t, StatusStopped, res.Status)
	assert.True(t, res.Resumable)

	rec, _, err := store.Load(context.Background(), "counting")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count, "progress before the failure is kept")
}

func TestRunnerStoppedNotResumableOnDeadline(t *testing.T) {
	store := progress.NewMemStore()
	wf := &countingWorkflow{
		name:   "counting",
		target: 1,
		stepErr: func(int) error {
			return retry.Fatal(retry.ClassDeadline, errors.New("window elapsed"))
		},
	}
	res := NewRunner(store, zaptest.NewLogger(t)).Run(context.Background(), wf)
	assert.Equal(t, StatusStopped, res.Status)
	assert.False(t, res.Resumable)
}

func TestRunnerCommitsStepThatFinishedDuringCancel(t *testing.T) {
	store := progress.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	wf := &countingWorkflow{
		name:   "counting",
		target: 5,
		// Cancel arrives while the remote call is in flight and the call
		// still succeeds; its outcome must be committed.
		onRun: func(stepNo int, _ context.Context) {
			if stepNo == 2 {
				cancel()
			}
		},
	}
	res := NewRunner(store, zaptest.NewLogger(t)).Run(ctx, wf)
	assert.Equal(t, StatusStopped, res.Status)
	assert.True(t, res.Resumable)

	rec, _, err := store.Load(context.Background(), "counting")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count, "the cancelled-through step is still recorded")
}

func TestRunnerIsolatesWorkflows(t *testing.T) {
	ctx := context.Background()
	store := progress.NewMemStore()
	runner := NewRunner(store, zaptest.NewLogger(t))

	failing := &countingWorkflow{
		name:   "failing",
		target: 1,
		stepErr: func(int) error {
			return retry.Fatal(retry.ClassValidation, errors.New("rejected"))
		},
	}
	healthy := &countingWorkflow{name: "healthy", target: 2}

	assert.Equal(t, StatusStopped, runner.Run(ctx, failing).Status)
	assert.Equal(t, StatusCompleted, runner.Run(ctx, healthy).Status)

	rec, _, err := store.Load(ctx, "healthy")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
}

// emptyNextWorkflow violates the contract: neither step, done nor blocked.
type emptyNextWorkflow struct{}

func (emptyNextWorkflow) Name() string                       { return "empty" }
func (emptyNextWorkflow) Thresholds() []int                  { return nil }
func (emptyNextWorkflow) Next(progress.Record) (Next, error) { return Next{}, nil }

func TestRunnerStopsOnEmptyNext(t *testing.T) {
	store := progress.NewMemStore()
	res := NewRunner(store, zaptest.NewLogger(t)).Run(context.Background(), emptyNextWorkflow{})

	assert.Equal(t, StatusStopped, res.Status)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "neither a step")
	assert.Equal(t, 0, store.Commits())
}
