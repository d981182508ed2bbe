package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRegressive rejects a mutation that would move a record backwards.
var ErrRegressive = errors.New("progress: mutation would move the record backwards")

// Store persists workflow records. Commits to the same name are serialized
// by the implementation; distinct names may commit concurrently.
type Store interface {
	// Load returns the record for name; ok is false when none exists yet.
	Load(ctx context.Context, name string) (Record, bool, error)
	// Commit applies one mutation and persists the result before returning.
	Commit(ctx context.Context, name string, mut Mutation) (Record, error)
	// All returns every known record.
	All(ctx context.Context) ([]Record, error)
	Close(ctx context.Context) error
}

// apply produces the successor record, enforcing the invariants every
// backend shares: counts are monotone, thresholds only extend, and a
// completed record stays completed.
func apply(rec Record, name string, mut Mutation, now time.Time) (Record, error) {
	if mut.CountDelta < 0 {
		return Record{}, fmt.Errorf("%w: count delta %d", ErrRegressive, mut.CountDelta)
	}
	next := rec.Clone()
	next.Name = name
	next.Count += mut.CountDelta
	if mut.StepID != "" {
		next.LastStepID = mut.StepID
	}
	if len(mut.Thresholds) > 0 {
		if err := extendThresholds(&next, mut.Thresholds); err != nil {
			return Record{}, err
		}
	}
	if len(mut.Detail) > 0 {
		if next.Detail == nil {
			next.Detail = make(map[string]string, len(mut.Detail))
		}
		for k, v := range mut.Detail {
			if v == "" {
				delete(next.Detail, k)
			} else {
				next.Detail[k] = v
			}
		}
		if len(next.Detail) == 0 {
			next.Detail = nil
		}
	}
	if mut.Completed && !next.Completed {
		next.Completed = true
		at := now
		next.CompletedAt = &at
	}
	next.UpdatedAt = now
	next.Version = rec.Version + 1
	return next, nil
}

func extendThresholds(rec *Record, thresholds []int) error {
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return fmt.Errorf("progress: thresholds must be strictly increasing, got %v", thresholds)
		}
	}
	if len(thresholds) < len(rec.Thresholds) {
		return fmt.Errorf("%w: thresholds shrank from %v to %v", ErrRegressive, rec.Thresholds, thresholds)
	}
	for i, t := range rec.Thresholds {
		if thresholds[i] != t {
			return fmt.Errorf("%w: threshold %d changed from %d to %d", ErrRegressive, i, t, thresholds[i])
		}
	}
	rec.Thresholds = append([]int(nil), thresholds...)
	return nil
}
