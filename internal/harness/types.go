package harness

import "github.com/cadenroberts/OllamaBot-sub000/internal/engine"

// TraceEvent is one executed scenario step.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Call     string `json:"call"`
	Code     string `json:"code,omitempty"` // error code the call returned
	Node     int    `json:"node,omitempty"` // node committed by complete
	State    string `json:"state"`
	FlowCode string `json:"flow_code"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Events lists the kinds published on the session bus, in order.
	Events []engine.EventKind `json:"events"`

	// FlowCode is the final flow code.
	FlowCode string `json:"flow_code"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Events: []engine.EventKind{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
