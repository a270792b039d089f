package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessiongate/internal/mock"
)

// journalMock serves a fixed journal.
type journalMock struct {
	journal []mock.Request
	err     error
}

func (m *journalMock) URL() string { return "http://mock.invalid" }
func (m *journalMock) Stub(context.Context, string, int) error { return nil }
func (m *journalMock) Reset(context.Context) error { return nil }
func (m *journalMock) ResetRequests(context.Context) error { return nil }
func (m *journalMock) Requests(_ context.Context, path string) ([]mock.Request, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []mock.Request
	for _, r := range m.journal {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out, nil
}

func sampleResult() *Result {
	r := NewResult()
	r.Tokens["user"] = "00000000000000AB0000000000000001"
	r.Trace = []TraceEvent{
		{Seq: 1, Type: EventStub, Path: "/auth", Status: 200},
		{Seq: 2, Type: EventRequest, Action: "LOGIN", Token: "user", Key: "valid", Status: 200, Result: "OK"},
		{Seq: 3, Type: EventUpstream, Path: "/auth", Body: "token=<user>"},
		{Seq: 4, Type: EventRequest, Action: "LOGIN", Token: "user", Key: "valid", Status: 409, Result: "ERROR"},
		{Seq: 5, Type: EventRequest, Action: "LOGIN", Token: "user", Key: "valid", Statuses: map[int]int{409: 3}},
	}
	return r
}

func sampleContext() *AssertionContext {
	return &AssertionContext{
		Ctx: context.Background(),
		Mock: &journalMock{journal: []mock.Request{
			{Method: "POST", Path: "/auth", Body: "token=00000000000000AB0000000000000001"},
		}},
	}
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertUpstreamCount, Path: "/auth", Count: 1},
		{Type: AssertUpstreamCount, Path: "/doAction", Count: 0},
		{Type: AssertUpstreamReceived, Path: "/auth", Token: "user"},
		{Type: AssertResultSequence, Results: []string{"OK", "ERROR"}},
		{Type: AssertStatusCount, Status: 409, Count: 4},
		{Type: AssertStatusCount, Status: 200, Count: 1},
	}, sampleContext())
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		contains  []string
	}{
		{
			name:      "upstream_count",
			assertion: Assertion{Type: AssertUpstreamCount, Path: "/auth", Count: 2},
			contains:  []string{"Assertion failed: upstream_count", "Expected: 2 calls to /auth", "Actual: 1 calls"},
		},
		{
			name:      "upstream_received",
			assertion: Assertion{Type: AssertUpstreamReceived, Path: "/doAction", Token: "user"},
			contains:  []string{"Assertion failed: upstream_received", "token=<user>", "0 calls, none matching"},
		},
		{
			name:      "result_sequence",
			assertion: Assertion{Type: AssertResultSequence, Results: []string{"OK", "OK"}},
			contains:  []string{"Expected: results [OK OK]", "Actual: results [OK ERROR]"},
		},
		{
			name:      "result_sequence length",
			assertion: Assertion{Type: AssertResultSequence, Results: []string{"OK"}},
			contains:  []string{"Actual: results [OK ERROR]"},
		},
		{
			name:      "status_count",
			assertion: Assertion{Type: AssertStatusCount, Status: 403, Count: 1},
			contains:  []string{"Expected: 1 responses with status 403", "Actual: 0 responses"},
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "final_state"},
			contains:  []string{`assertion[0]: unknown assertion type "final_state"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion}, sampleContext())
			require.Len(t, errs, 1)
			for _, want := range tt.contains {
				assert.Contains(t, errs[0], want)
			}
		})
	}
}

func TestEvaluateAssertions_MockRequired(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertUpstreamCount, Path: "/auth"},
		{Type: AssertResultSequence, Results: []string{"OK", "ERROR"}},
	}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "assertion[0]: upstream_count requires a mock dependency", errs[0])
}

func TestEvaluateAssertions_JournalError(t *testing.T) {
	actx := &AssertionContext{Mock: &journalMock{err: errors.New("connection refused")}}
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertUpstreamCount, Path: "/auth"},
	}, actx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "connection refused")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertStatusCount,
		Expected: "1 responses with status 403",
		Actual:   "0 responses",
		Trace:    sampleResult().Trace,
	}

	msg := err.Error()
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[1] stub /auth -> 200")
	assert.Contains(t, msg, "[2] LOGIN user key=valid -> 200 OK")
	assert.Contains(t, msg, "[3] upstream /auth token=<user>")
}
