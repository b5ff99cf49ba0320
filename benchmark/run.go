package benchmark

import (
	"encoding/json"
	"time"

	"github.com/skylenet/aa-benchmark/metrics"
)

// RunState is the lifecycle state of the orchestrator.
type RunState string

// Run states.
const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
)

// Run holds the results of one benchmark run keyed by provider name.
type Run struct {
	ID         uint64
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time

	// Order is the launch order of the adapters, used for display.
	Order   []string
	Results map[string]*ProviderResult
}

// Duration returns the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Copy returns a deep copy of the run.
func (r *Run) Copy() *Run {
	cpy := *r
	cpy.Order = append([]string(nil), r.Order...)
	cpy.Results = make(map[string]*ProviderResult, len(r.Results))
	for name, result := range r.Results {
		cpy.Results[name] = result.Copy()
	}
	return &cpy
}

// Ordered returns the results in launch order.
func (r *Run) Ordered() []*ProviderResult {
	out := make([]*ProviderResult, 0, len(r.Order))
	for _, name := range r.Order {
		if result, ok := r.Results[name]; ok {
			out = append(out, result)
		}
	}
	return out
}

// Samples returns the metrics samples of all valid results.
func (r *Run) Samples() []metrics.Sample {
	samples := make([]metrics.Sample, 0, len(r.Results))
	for _, result := range r.Ordered() {
		if result.IsValid() {
			samples = append(samples, result.Sample())
		}
	}
	return samples
}

// Counts returns the number of succeeded and failed results.
func (r *Run) Counts() (succeeded, failed int) {
	for _, result := range r.Results {
		switch result.State {
		case StateSucceeded:
			succeeded++
		case StateFailed:
			failed++
		}
	}
	return succeeded, failed
}

type runJSON struct {
	ID         uint64            `json:"id"`
	State      RunState          `json:"state"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Results    []*ProviderResult `json:"results"`
}

// MarshalJSON encodes the results as a list in launch order.
func (r *Run) MarshalJSON() ([]byte, error) {
	enc := runJSON{
		ID:        r.ID,
		State:     r.State,
		StartedAt: r.StartedAt,
		Results:   r.Ordered(),
	}
	if !r.FinishedAt.IsZero() {
		enc.FinishedAt = &r.FinishedAt
	}
	return json.Marshal(&enc)
}
