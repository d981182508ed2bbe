package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

type classedError struct {
	class Class
	msg   string
}

func (e classedError) Error() string    { return e.msg }
func (e classedError) RetryClass() Class { return e.class }

func newTestPolicy(t *testing.T, opts ...Option) (*Policy, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := ratelimit.New(0, zap.NewNop(), ratelimit.WithClock(fake))
	opts = append([]Option{WithClock(fake), WithJitterSource(func() float64 { return 0.5 })}, opts...)
	return NewPolicy(limiter, zap.NewNop(), opts...), fake
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p, _ := newTestPolicy(t)
	calls := 0
	err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTransientRetriedWithBackoffThenFatal(t *testing.T) {
	p, fake := newTestPolicy(t, WithMaxAttempts(3), WithBackoff(time.Second, time.Minute))
	calls := 0
	err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
		calls++
		return classedError{ClassTransient, "503"}
	})
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ClassTransient, terr.Class)
	assert.Equal(t, 3, calls)
	assert.True(t, terr.Resumable())

	// Two backoff sleeps: base and doubled, both jittered at the midpoint.
	require.Len(t, fake.Slept, 2)
	assert.Equal(t, time.Second, fake.Slept[0])
	assert.Equal(t, 2*time.Second, fake.Slept[1])
}

func TestUnclassifiedErrorTreatedAsTransient(t *testing.T) {
	p, _ := newTestPolicy(t, WithMaxAttempts(2))
	calls := 0
	err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
		calls++
		return io.ErrUnexpectedEOF
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestFatalSurfacedImmediately(t *testing.T) {
	for _, class := range []Class{ClassAuth, ClassValidation, ClassPrecondition} {
		p, _ := newTestPolicy(t)
		calls := 0
		err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
			calls++
			return classedError{class, "nope"}
		})
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, class, terr.Class)
		assert.Equal(t, 1, calls, "class %s must not retry", class)
	}
}

func TestThrottledRetriesBeyondAttemptCap(t *testing.T) {
	p, _ := newTestPolicy(t, WithMaxAttempts(2))
	calls := 0
	err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
		calls++
		if calls <= 5 {
			return classedError{ClassThrottled, "rate limited"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, calls, "throttling is expected and never exhausts attempts")
}

func TestPreWrappedFatalPassesThrough(t *testing.T) {
	p, _ := newTestPolicy(t)
	missed := Fatal(ClassDeadline, errors.New("closed after the window"))
	err := p.Do(context.Background(), ratelimit.AccountPrimary, "op", func(context.Context) error {
		return missed
	})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ClassDeadline, terr.Class)
	assert.False(t, terr.Resumable())
}

func TestResumableClassification(t *testing.T) {
	assert.True(t, (&Error{Class: ClassAuth}).Resumable())
	assert.True(t, (&Error{Class: ClassPrecondition}).Resumable())
	assert.False(t, (&Error{Class: ClassDeadline}).Resumable())
	assert.False(t, (&Error{Class: ClassValidation}).Resumable())
}
