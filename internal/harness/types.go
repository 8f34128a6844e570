package harness

import "github.com/roach88/storysync/internal/remote/fakeapi"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is the request log after the initial load.
	Trace []fakeapi.Request `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final state.
	ServerOrder []string `json:"server_order"`
	LocalOrder  []string `json:"local_order"`
	Pending     int      `json:"pending"`
	Retries     int      `json:"retries"`
	Halted      bool     `json:"halted"`

	serverText map[string]string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []fakeapi.Request{},
		Errors:     []string{},
		serverText: make(map[string]string),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// requestsFor returns the trace entries for one route.
func (r *Result) requestsFor(route string) []fakeapi.Request {
	var out []fakeapi.Request
	for _, req := range r.Trace {
		if string(req.Route) == route {
			out = append(out, req)
		}
	}
	return out
}
