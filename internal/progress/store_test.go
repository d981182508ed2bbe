package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRejectsNegativeDelta(t *testing.T) {
	_, err := apply(Record{Count: 3}, "pull_shark", Mutation{CountDelta: -1}, time.Now())
	require.ErrorIs(t, err, ErrRegressive)
}

func TestApplyRejectsShrinkingThresholds(t *testing.T) {
	rec := Record{Thresholds: []int{2, 16, 128}}
	_, err := apply(rec, "pull_shark", Mutation{Thresholds: []int{2, 16}}, time.Now())
	require.ErrorIs(t, err, ErrRegressive)

	_, err = apply(rec, "pull_shark", Mutation{Thresholds: []int{2, 20, 128}}, time.Now())
	require.ErrorIs(t, err, ErrRegressive)
}

func TestApplyRejectsUnorderedThresholds(t *testing.T) {
	_, err := apply(Record{}, "pull_shark", Mutation{Thresholds: []int{16, 2}}, time.Now())
	require.Error(t, err)
}

func TestApplyMergesAndDeletesDetail(t *testing.T) {
	rec := Record{Detail: map[string]string{"cycle_discussion_id": "D1", "cycle_comment_id": "C1"}}
	next, err := apply(rec, "galaxy_brain", Mutation{
		CountDelta: 1,
		Detail: map[string]string{
			"cycle_discussion_id": "",
			"cycle_comment_id":    "",
		},
	}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, next.Detail)
	assert.Equal(t, 1, next.Count)
}

func TestApplyCompletionLatches(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	first, err := apply(Record{}, "yolo", Mutation{Completed: true}, now)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, now, *first.CompletedAt)

	later, err := apply(first, "yolo", Mutation{Completed: true}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, now, *later.CompletedAt)
}

func TestApplyBumpsVersionEachCommit(t *testing.T) {
	rec := Record{}
	for i := 1; i <= 3; i++ {
		next, err := apply(rec, "quickdraw", Mutation{StepID: "quickdraw/issue"}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, i, next.Version)
		rec = next
	}
}

func TestCrossed(t *testing.T) {
	thresholds := []int{2, 16, 128, 1024}
	assert.Equal(t, []int{2}, Crossed(thresholds, 1, 2))
	assert.Equal(t, []int{2, 16}, Crossed(thresholds, 0, 20))
	assert.Nil(t, Crossed(thresholds, 2, 15))
	assert.Nil(t, Crossed(thresholds, 1024, 1030))
}

func TestNextThreshold(t *testing.T) {
	rec := Record{Count: 16, Thresholds: []int{2, 16, 128, 1024}}
	next, ok := rec.NextThreshold()
	require.True(t, ok)
	assert.Equal(t, 128, next)

	rec.Count = 1024
	_, ok = rec.NextThreshold()
	assert.False(t, ok)
}

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, ok, err := store.Load(ctx, "pull_shark")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Commit(ctx, "pull_shark", Mutation{
		CountDelta: 1,
		StepID:     "pull_shark/merge-1",
		Thresholds: []int{2, 16, 128, 1024},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	loaded, ok, err := store.Load(ctx, "pull_shark")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, loaded)
}
