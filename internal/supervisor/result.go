package supervisor

import (
	"fmt"
	"strings"
)

// StopResult distinguishes the three ways a stop request can end.
type StopResult string

const (
	// StopStopped means the process exited, gracefully or after escalation.
	StopStopped StopResult = "stopped"
	// StopTimedOut means the process survived both the graceful signal and
	// the forced kill within the allowed window.
	StopTimedOut StopResult = "timed_out"
	// StopNotRunning means there was nothing to stop. It is not an error.
	StopNotRunning StopResult = "not_running"
)

// Outcome is the per-service result of one operation within a batch.
type Outcome struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Batch collects per-service outcomes of an operation applied to several
// services. Outcomes appear in the order the services were processed, and
// one failure never prevents the remaining services from being attempted.
type Batch struct {
	Outcomes []Outcome
}

func (b *Batch) add(name string, err error) {
	b.Outcomes = append(b.Outcomes, Outcome{Name: name, Err: err})
}

// Failed returns the subset of outcomes that carry an error.
func (b *Batch) Failed() []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err reduces the batch to a single error naming every failed service,
// or nil when everything succeeded.
func (b *Batch) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, o := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", o.Name, o.Err))
	}
	return fmt.Errorf("%d of %d failed: %s", len(failed), len(b.Outcomes), strings.Join(parts, "; "))
}
