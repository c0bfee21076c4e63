package harness

import (
	"github.com/roach88/ripple/internal/statestore"
)

// Trace event types.
const (
	EventState  = "state"
	EventAction = "action"
	EventError  = "error"
)

// TraceEvent is one observation made while running a scenario.
type TraceEvent struct {
	Seq          int64              `json:"seq"`
	Type         string             `json:"type"`
	Subscription string             `json:"subscription,omitempty"`
	Step         int                `json:"step,omitempty"` // 1-based, error events only
	State        map[string]any     `json:"state,omitempty"`
	Prev         map[string]any     `json:"prev,omitempty"`
	Action       *statestore.Action `json:"action,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists deliveries and step errors in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the store state after the last step.
	State map[string]any `json:"state,omitempty"`

	// Persisted is the decoded persisted entry, nil if there is none.
	Persisted map[string]any `json:"persisted,omitempty"`

	// Deliveries counts calls per subscription id.
	Deliveries map[string]int `json:"deliveries,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Deliveries: make(map[string]int),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
