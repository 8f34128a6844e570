package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/storysync/internal/remote/fakeapi"
)

// AssertionError is returned when an assertion fails.
// It carries the request trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []fakeapi.Request
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nRequest trace:\n")
	for i, r := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %v -> %d\n", i+1, r.Method, r.Route, r.Keys, r.Status)
	}
	return buf.String()
}

func routesOf(trace []fakeapi.Request) []string {
	out := make([]string, len(trace))
	for i, r := range trace {
		out[i] = string(r.Route)
	}
	return out
}

// assertRequestRoutes checks the exact route sequence of the trace.
func assertRequestRoutes(r *Result, a Assertion) error {
	got := routesOf(r.Trace)
	want := a.Routes
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertRequestRoutes,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertRequestCount checks how many requests reached a route.
func assertRequestCount(r *Result, a Assertion) error {
	got := len(r.requestsFor(a.Route))
	if got != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d %s requests", a.Count, a.Route),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertRequestKeys checks the keys carried by the nth request to a route.
func assertRequestKeys(r *Result, a Assertion) error {
	reqs := r.requestsFor(a.Route)
	if a.Nth >= len(reqs) {
		return &AssertionError{
			Type:     AssertRequestKeys,
			Expected: fmt.Sprintf("%s request #%d", a.Route, a.Nth),
			Actual:   fmt.Sprintf("only %d %s requests", len(reqs), a.Route),
			Trace:    r.Trace,
		}
	}
	got := reqs[a.Nth].Keys
	if !slices.Equal(got, a.Keys) {
		return &AssertionError{
			Type:     AssertRequestKeys,
			Expected: fmt.Sprintf("%s request #%d keys %v", a.Route, a.Nth, a.Keys),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertOrder(typ string, got []string, a Assertion, trace []fakeapi.Request) error {
	if len(got) == 0 && len(a.Keys) == 0 {
		return nil
	}
	if !slices.Equal(got, a.Keys) {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%v", a.Keys),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertServerText(r *Result, a Assertion) error {
	got, ok := r.serverText[a.Key]
	if !ok {
		return &AssertionError{
			Type:     AssertServerText,
			Expected: fmt.Sprintf("paragraph %s on server", a.Key),
			Actual:   "missing",
			Trace:    r.Trace,
		}
	}
	if got != a.Text {
		return &AssertionError{
			Type:     AssertServerText,
			Expected: fmt.Sprintf("%s = %q", a.Key, a.Text),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertInt(typ string, got, want int, trace []fakeapi.Request) error {
	if got != want {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions runs all assertions against the result.
// Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRequestRoutes:
			err = assertRequestRoutes(result, a)
		case AssertRequestCount:
			err = assertRequestCount(result, a)
		case AssertRequestKeys:
			err = assertRequestKeys(result, a)
		case AssertServerOrder:
			err = assertOrder(a.Type, result.ServerOrder, a, result.Trace)
		case AssertLocalOrder:
			err = assertOrder(a.Type, result.LocalOrder, a, result.Trace)
		case AssertServerText:
			err = assertServerText(result, a)
		case AssertPending:
			err = assertInt(a.Type, result.Pending, a.Count, result.Trace)
		case AssertRetries:
			err = assertInt(a.Type, result.Retries, a.Count, result.Trace)
		case AssertHalted:
			if result.Halted != a.Halted {
				err = &AssertionError{
					Type:     AssertHalted,
					Expected: fmt.Sprintf("halted=%t", a.Halted),
					Actual:   fmt.Sprintf("halted=%t", result.Halted),
					Trace:    result.Trace,
				}
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}
