package harness

import (
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
)

// TraceEntry records what one step did.
type TraceEntry struct {
	Step   int      `json:"step"`
	Op     string   `json:"op"` // "submit" or "rebuild"
	Origin string   `json:"origin,omitempty"`
	Types  []string `json:"types,omitempty"`
	Seq    int64    `json:"seq,omitempty"`
	Error  string   `json:"error,omitempty"`
	Index  *int     `json:"index,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEntry `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Log is the full event log after the last step.
	Log []ir.Event `json:"log"`

	// State is the snapshot after the last step, at Seq.
	State snapshot.Snapshot `json:"state"`
	Seq   int64             `json:"seq"`

	// Deterministic reports that a final rebuild left the derived tables
	// unchanged.
	Deterministic bool `json:"deterministic"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
