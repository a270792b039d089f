package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/sessiongate/internal/driver"
	"github.com/roach88/sessiongate/internal/mock"
	"github.com/roach88/sessiongate/internal/testutil"
	"github.com/roach88/sessiongate/internal/token"
)

// Mock is the mock dependency as the harness drives it. *mock.AdminClient
// satisfies it for a mock in this or another process.
type Mock interface {
	URL() string
	Stub(ctx context.Context, path string, status int) error
	Reset(ctx context.Context) error
	ResetRequests(ctx context.Context) error
	Requests(ctx context.Context, path string) ([]mock.Request, error)
}

// Config wires a Harness.
type Config struct {
	Driver *driver.Client
	Mock   Mock

	// Tokens binds scenario aliases. Defaults to token.RandomSource.
	Tokens token.Source

	// Logger defaults to discarding output.
	Logger *slog.Logger
}

// Harness runs scenarios against one gateway and one mock dependency.
//
// Runs are serialized because they share the mock's stubs and journal.
type Harness struct {
	driver *driver.Client
	mock   Mock
	tokens token.Source
	clock  *testutil.DeterministicClock
	logger *slog.Logger

	mu sync.Mutex
}

// New returns a harness for cfg.
func New(cfg Config) (*Harness, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("harness requires a driver")
	}
	if cfg.Mock == nil {
		return nil, fmt.Errorf("harness requires a mock dependency")
	}
	if cfg.Tokens == nil {
		cfg.Tokens = token.RandomSource{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{
		driver: cfg.Driver,
		mock:   cfg.Mock,
		tokens: cfg.Tokens,
		clock:  testutil.NewDeterministicClock(),
		logger: cfg.Logger,
	}, nil
}

// Run executes a scenario and evaluates its assertions.
//
// Execution flow:
//  1. Reset the mock's stubs and journal
//  2. Bind every alias to a fresh token
//  3. Execute steps, tracing each request followed by the upstream calls
//     it caused
//  4. Evaluate assertions
//
// Failed expectations and assertions are recorded in the Result. A non-nil
// error means the run could not be carried out: the mock could not be
// programmed or the gateway sent no HTTP response.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clock.Reset()
	if err := h.mock.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset mock: %w", err)
	}

	r := &run{
		h:      h,
		result: NewResult(),
		labels: make(map[string]string),
	}
	for _, alias := range scenario.Tokens {
		tok := h.tokens.Next()
		r.result.Tokens[alias] = tok
		r.labels[tok] = alias
	}

	for i, step := range scenario.Steps {
		if err := r.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Ctx: ctx, Mock: h.mock}
	for _, msg := range EvaluateAssertions(r.result, scenario.Assertions, actx) {
		r.result.AddError(msg)
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"pass", r.result.Pass,
		"events", len(r.result.Trace),
	)
	return r.result, nil
}

// run is the state of one Run call.
type run struct {
	h      *Harness
	result *Result

	// labels maps token values to their trace labels.
	labels map[string]string

	// seen is how many journal entries are already traced.
	seen int
}

func (r *run) execute(ctx context.Context, index int, step Step) error {
	switch {
	case step.Stub != nil:
		if err := r.h.mock.Stub(ctx, step.Stub.Path, step.Stub.Status); err != nil {
			return fmt.Errorf("failed to stub %s: %w", step.Stub.Path, err)
		}
		r.result.addStubTrace(step.Stub.Path, step.Stub.Status, r.h.clock.Next())
	case step.ResetRequests:
		if err := r.h.mock.ResetRequests(ctx); err != nil {
			return fmt.Errorf("failed to reset requests: %w", err)
		}
		r.seen = 0
		r.result.addResetTrace(r.h.clock.Next())
	case step.Send != nil:
		if err := r.send(ctx, index, step.Send); err != nil {
			return err
		}
		// How many upstream calls a race makes depends on scheduling.
		return r.collectUpstream(ctx, step.Send.Concurrent < 2)
	}
	return nil
}

func (r *run) send(ctx context.Context, index int, step *SendStep) error {
	tok, label, err := r.resolveToken(step)
	if err != nil {
		return err
	}
	key, err := driver.ParseKeyMode(step.Key)
	if err != nil {
		return err
	}
	req := driver.Request{Action: step.Action, Token: tok, Key: key, Omit: step.Omit}
	event := TraceEvent{Type: EventRequest, Action: step.Action, Token: label, Key: string(key)}
	if step.Omit {
		event.Token = ""
	}

	if step.Concurrent >= 2 {
		return r.sendConcurrent(ctx, index, step, req, event)
	}

	resp, err := r.h.driver.Send(ctx, req)
	if err != nil {
		return err
	}
	event.Seq = r.h.clock.Next()
	event.Status = resp.Status
	event.Result = resp.Result
	event.Message = resp.Message
	r.result.Trace = append(r.result.Trace, event)

	r.h.logger.Debug("request sent",
		"step", index,
		"action", step.Action,
		"token", label,
		"status", resp.Status,
		"result", resp.Result,
	)

	if resp.SchemaErr != nil && checksBody(key) {
		r.result.AddError(fmt.Sprintf("steps[%d]: %v", index, resp.SchemaErr))
	}
	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, resp) {
			r.result.AddError(fmt.Sprintf("steps[%d]: %s", index, msg))
		}
	}
	return nil
}

func (r *run) sendConcurrent(ctx context.Context, index int, step *SendStep, req driver.Request, event TraceEvent) error {
	type outcome struct {
		resp *driver.Response
		err  error
	}
	outcomes := make([]outcome, step.Concurrent)

	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := r.h.driver.Send(ctx, req)
			outcomes[i] = outcome{resp: resp, err: err}
		}(i)
	}
	wg.Wait()

	event.Statuses = make(map[int]int)
	ok := 0
	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
		event.Statuses[o.resp.Status]++
		if o.resp.Result == "OK" {
			ok++
		}
		if o.resp.SchemaErr != nil && checksBody(req.Key) {
			r.result.AddError(fmt.Sprintf("steps[%d]: %v", index, o.resp.SchemaErr))
		}
	}
	event.Seq = r.h.clock.Next()
	r.result.Trace = append(r.result.Trace, event)

	if step.Expect != nil && step.Expect.OKCount != nil && ok != *step.Expect.OKCount {
		r.result.AddError(fmt.Sprintf("steps[%d]: expected %d OK responses out of %d, got %d",
			index, *step.Expect.OKCount, step.Concurrent, ok))
	}
	return nil
}

func (r *run) resolveToken(step *SendStep) (value, label string, err error) {
	switch {
	case step.Token != "":
		v, ok := r.result.Tokens[step.Token]
		if !ok {
			return "", "", fmt.Errorf("undeclared token alias %q", step.Token)
		}
		return v, step.Token, nil
	case step.TokenLiteral != nil:
		value = *step.TokenLiteral
		if value == "" {
			return "", "literal:", nil
		}
		if _, taken := r.labels[value]; !taken {
			r.labels[value] = value
		}
		return value, r.labels[value], nil
	case step.Malformed != "":
		value, err = token.Malformed(token.MalformedKind(step.Malformed))
		if err != nil {
			return "", "", err
		}
		label = "malformed:" + step.Malformed
		if value != "" {
			r.labels[value] = label
		}
		return value, label, nil
	}
	return "", "", nil
}

// collectUpstream traces journal entries that arrived since the last call,
// or only skips past them when trace is false.
func (r *run) collectUpstream(ctx context.Context, trace bool) error {
	calls, err := r.h.mock.Requests(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read mock journal: %w", err)
	}
	if r.seen > len(calls) {
		r.seen = 0
	}
	if trace {
		for _, c := range calls[r.seen:] {
			r.result.addUpstreamTrace(c.Path, r.normalize(c.Body), r.h.clock.Next())
		}
	}
	r.seen = len(calls)
	return nil
}

// normalize replaces known token values in s with <label>. Longer values are
// replaced first so a token is never rewritten through a prefix.
func (r *run) normalize(s string) string {
	values := make([]string, 0, len(r.labels))
	for v := range r.labels {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if len(values[i]) != len(values[j]) {
			return len(values[i]) > len(values[j])
		}
		return values[i] < values[j]
	})
	for _, v := range values {
		s = strings.ReplaceAll(s, v, "<"+r.labels[v]+">")
	}
	return s
}

// checksBody reports whether responses sent with key must be response
// documents. Rejected keys may be answered with any body, or none.
func checksBody(key driver.KeyMode) bool {
	return key == driver.KeyValid
}

func checkExpect(e *Expect, resp *driver.Response) []string {
	var msgs []string
	if e.Status != 0 && resp.Status != e.Status {
		msgs = append(msgs, fmt.Sprintf("expected status %d, got %d", e.Status, resp.Status))
	}
	if len(e.StatusIn) > 0 && !containsInt(e.StatusIn, resp.Status) {
		msgs = append(msgs, fmt.Sprintf("expected status in %v, got %d", e.StatusIn, resp.Status))
	}
	if e.Result != "" && resp.Result != e.Result {
		msgs = append(msgs, fmt.Sprintf("expected result %s, got %q", e.Result, resp.Result))
	}
	return msgs
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
