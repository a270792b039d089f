package harness

// Trace event types.
const (
	EventStub          = "stub"
	EventRequest       = "request"
	EventUpstream      = "upstream"
	EventResetRequests = "reset_requests"
)

// TraceEvent is one entry of a run's trace. Token values are replaced by
// labels (the alias, the literal, or malformed:<kind>) so traces of
// different runs compare equal.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// request
	Action  string `json:"action,omitempty"`
	Token   string `json:"token,omitempty"`
	Key     string `json:"key,omitempty"`
	Status  int    `json:"status,omitempty"`
	Result  string `json:"result,omitempty"`
	Message string `json:"message,omitempty"`

	// Statuses counts responses by status for a concurrent request.
	Statuses map[int]int `json:"statuses,omitempty"`

	// stub and upstream
	Path string `json:"path,omitempty"`
	Body string `json:"body,omitempty"`
}

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tokens maps each alias to the token it was bound to for this run.
	Tokens map[string]string `json:"tokens,omitempty"`
}

// NewResult returns a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Tokens: make(map[string]string),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requests returns the request events in order.
func (r *Result) Requests() []TraceEvent {
	return r.filter(EventRequest)
}

// Upstream returns upstream events for path in order; an empty path returns
// all of them.
func (r *Result) Upstream(path string) []TraceEvent {
	events := r.filter(EventUpstream)
	if path == "" {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

func (r *Result) filter(typ string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *Result) addStubTrace(path string, status int, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Type: EventStub, Path: path, Status: status})
}

func (r *Result) addResetTrace(seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Type: EventResetRequests})
}

func (r *Result) addUpstreamTrace(path, body string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Type: EventUpstream, Path: path, Body: body})
}
