package harness

// TraceEvent is one pipeline state transition observed during a run.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Step  string `json:"step"`  // "setup[0]", "flow[2]"
	Event string `json:"event"` // pipeline.Transition.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every transition in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a transition.
func (r *Result) AddTrace(step, event string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:   int64(len(r.Trace) + 1),
		Step:  step,
		Event: event,
	})
}

// Events returns the transition lines in order.
func (r *Result) Events() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.Event
	}
	return out
}
