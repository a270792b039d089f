package harness

import (
	"context"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventRequest:
			fmt.Fprintf(&buf, "  [%d] %s %s key=%s -> %d %s\n",
				event.Seq, event.Action, event.Token, event.Key, event.Status, event.Result)
		case EventUpstream:
			fmt.Fprintf(&buf, "  [%d] upstream %s %s\n", event.Seq, event.Path, event.Body)
		case EventStub:
			fmt.Fprintf(&buf, "  [%d] stub %s -> %d\n", event.Seq, event.Path, event.Status)
		case EventResetRequests:
			fmt.Fprintf(&buf, "  [%d] reset requests\n", event.Seq)
		}
	}

	return buf.String()
}

// AssertionContext gives assertions access to the mock dependency's current
// journal.
type AssertionContext struct {
	Ctx  context.Context
	Mock Mock
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// upstream_count and upstream_received need actx.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertUpstreamCount, AssertUpstreamReceived:
			if actx == nil || actx.Mock == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a mock dependency", i, assertion.Type)
			} else if assertion.Type == AssertUpstreamCount {
				err = assertUpstreamCount(actx, result, assertion)
			} else {
				err = assertUpstreamReceived(actx, result, assertion)
			}
		case AssertResultSequence:
			err = assertResultSequence(result.Trace, assertion)
		case AssertStatusCount:
			err = assertStatusCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertUpstreamCount checks how many calls the mock holds for a path since
// its journal was last cleared.
func assertUpstreamCount(actx *AssertionContext, result *Result, assertion Assertion) error {
	calls, err := actx.Mock.Requests(contextOf(actx), assertion.Path)
	if err != nil {
		return fmt.Errorf("upstream_count: read mock journal: %w", err)
	}
	if len(calls) != assertion.Count {
		return &AssertionError{
			Type:     AssertUpstreamCount,
			Expected: fmt.Sprintf("%d calls to %s", assertion.Count, assertion.Path),
			Actual:   fmt.Sprintf("%d calls", len(calls)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertUpstreamReceived checks that some call to a path carried the
// aliased token as its form value.
func assertUpstreamReceived(actx *AssertionContext, result *Result, assertion Assertion) error {
	value, ok := result.Tokens[assertion.Token]
	if !ok {
		return fmt.Errorf("upstream_received: token alias %q is not bound", assertion.Token)
	}
	calls, err := actx.Mock.Requests(contextOf(actx), assertion.Path)
	if err != nil {
		return fmt.Errorf("upstream_received: read mock journal: %w", err)
	}
	needle := "token=" + value
	for _, c := range calls {
		if strings.Contains(c.Body, needle) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertUpstreamReceived,
		Expected: fmt.Sprintf("a call to %s with body containing token=<%s>", assertion.Path, assertion.Token),
		Actual:   fmt.Sprintf("%d calls, none matching", len(calls)),
		Trace:    result.Trace,
	}
}

// assertResultSequence checks the result field of every request, in order.
func assertResultSequence(trace []TraceEvent, assertion Assertion) error {
	var actual []string
	for _, event := range trace {
		if event.Type == EventRequest && event.Statuses == nil {
			actual = append(actual, event.Result)
		}
	}

	match := len(actual) == len(assertion.Results)
	for i := 0; match && i < len(actual); i++ {
		match = actual[i] == assertion.Results[i]
	}
	if !match {
		return &AssertionError{
			Type:     AssertResultSequence,
			Expected: fmt.Sprintf("results %v", assertion.Results),
			Actual:   fmt.Sprintf("results %v", actual),
			Trace:    trace,
		}
	}
	return nil
}

// assertStatusCount checks how many responses carried a status, counting
// each response of a concurrent request.
func assertStatusCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type != EventRequest {
			continue
		}
		if event.Statuses != nil {
			count += event.Statuses[assertion.Status]
		} else if event.Status == assertion.Status {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertStatusCount,
			Expected: fmt.Sprintf("%d responses with status %d", assertion.Count, assertion.Status),
			Actual:   fmt.Sprintf("%d responses", count),
			Trace:    trace,
		}
	}
	return nil
}

func contextOf(actx *AssertionContext) context.Context {
	if actx.Ctx == nil {
		return context.Background()
	}
	return actx.Ctx
}
