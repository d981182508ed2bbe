package achievements

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achievio/badgehunter/internal/config"
	"github.com/achievio/badgehunter/internal/engine"
)

func TestYoloBlockedWithoutReviewer(t *testing.T) {
	h := newHarness(t, false)
	res := h.runner.Run(context.Background(), NewYolo(h.env, config.WorkflowConfig{Enabled: true}))
	require.Equal(t, engine.StatusBlocked, res.Status)
	assert.Contains(t, res.Blocked, "reviewer")
	assert.Empty(t, h.hub.calls)
}

func TestYoloFallsBackToSecondAccountAsReviewer(t *testing.T) {
	h := newHarness(t, true)
	res := h.runner.Run(context.Background(), NewYolo(h.env, config.WorkflowConfig{Enabled: true}))
	require.Equal(t, engine.StatusCompleted, res.Status)

	reviews := h.hub.callsMatching("request_review")
	require.Len(t, reviews, 1)
	assert.Contains(t, reviews[0], "secondary")
}

func TestYoloMergesWithReviewStillPending(t *testing.T) {
	h := newHarness(t, false)
	res := h.runner.Run(context.Background(),
		NewYolo(h.env, config.WorkflowConfig{Enabled: true, Reviewer: "some-reviewer"}))
	require.Equal(t, engine.StatusCompleted, res.Status)

	// The review request precedes the merge and nothing resolves it
	// in between.
	reviewIdx, mergeIdx := -1, -1
	for i, call := range h.hub.calls {
		if strings.Contains(call, "request_review") {
			reviewIdx = i
		}
		if strings.Contains(call, "merge_pull") {
			mergeIdx = i
		}
	}
	require.GreaterOrEqual(t, reviewIdx, 0)
	require.GreaterOrEqual(t, mergeIdx, 0)
	assert.Less(t, reviewIdx, mergeIdx)

	rec, _, err := h.store.Load(context.Background(), config.WorkflowYolo)
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Equal(t, 1, rec.Count)
	assert.NotEmpty(t, rec.Detail["pull_url"])
}

func TestYoloRerunIsNoOp(t *testing.T) {
	h := newHarness(t, false)
	wf := NewYolo(h.env, config.WorkflowConfig{Enabled: true, Reviewer: "some-reviewer"})
	require.Equal(t, engine.StatusCompleted, h.runner.Run(context.Background(), wf).Status)
	calls := len(h.hub.calls)

	require.Equal(t, engine.StatusCompleted, h.runner.Run(context.Background(), wf).Status)
	assert.Equal(t, calls, len(h.hub.calls), "a completed one-shot issues no further calls")
}
