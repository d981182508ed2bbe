package progress

import (
	"maps"
	"time"
)

// Record is the durable state of one workflow. Count only ever grows and
// thresholds only ever extend, so a crash between commits can at worst lose
// the most recent step, never invent completed work.
type Record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	// Thresholds is the configured milestone ladder, strictly increasing.
	// Which milestones have been crossed is not stored separately: it is
	// derived from the monotone Count (see Crossed), so the crossed set can
	// only grow.
	Thresholds  []int             `json:"thresholds,omitempty"`
	LastStepID  string            `json:"last_step_id,omitempty"`
	Completed   bool              `json:"completed"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Detail      map[string]string `json:"detail,omitempty"`
	Version     int               `json:"version"`
}

func (r Record) Clone() Record {
	out := r
	out.Thresholds = append([]int(nil), r.Thresholds...)
	out.Detail = maps.Clone(r.Detail)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

// NextThreshold reports the first threshold the count has not reached yet.
func (r Record) NextThreshold() (int, bool) {
	for _, t := range r.Thresholds {
		if r.Count < t {
			return t, true
		}
	}
	return 0, false
}

// Crossed lists the thresholds a count increase passed.
func Crossed(thresholds []int, before, after int) []int {
	var out []int
	for _, t := range thresholds {
		if before < t && after >= t {
			out = append(out, t)
		}
	}
	return out
}

// Mutation describes one committed step outcome. A Detail entry with an
// empty value deletes the key.
type Mutation struct {
	StepID     string
	CountDelta int
	Completed  bool
	Thresholds []int
	Detail     map[string]string
}
