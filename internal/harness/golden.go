package harness

import (
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sessiongate/internal/canonical"
)

// GoldenDir is where golden traces live, relative to a scenario directory or
// a test package.
const GoldenDir = "golden"

// Snapshot renders a run's trace as canonical JSON for golden comparison.
//
// Response messages are left out: their wording is not part of the gateway
// contract, so two conforming gateways may differ there.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		m := map[string]any{
			"seq":  event.Seq,
			"type": event.Type,
		}
		setString(m, "action", event.Action)
		setString(m, "token", event.Token)
		setString(m, "key", event.Key)
		setString(m, "result", event.Result)
		setString(m, "path", event.Path)
		setString(m, "body", event.Body)
		if event.Status != 0 {
			m["status"] = event.Status
		}
		if event.Statuses != nil {
			statuses := make(map[string]any, len(event.Statuses))
			for status, n := range event.Statuses {
				statuses[strconv.Itoa(status)] = n
			}
			m["statuses"] = statuses
		}
		trace[i] = m
	}

	return canonical.MarshalIndent(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
	})
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// AssertGolden compares the result's trace against
// testdata/golden/{scenarioName}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/"+GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// RunWithGolden runs the scenario with h and compares its trace against the
// golden file named after the scenario.
func RunWithGolden(t *testing.T, h *Harness, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := h.Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}
