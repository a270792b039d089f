package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sessiongate/internal/driver"
	"github.com/roach88/sessiongate/internal/token"
)

// Scenario is one conformance case against a gateway.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Tokens declares aliases. Each alias is bound to a freshly generated
	// valid token every time the scenario runs.
	Tokens []string `yaml:"tokens,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is exactly one of Stub, Send or ResetRequests.
type Step struct {
	Stub          *StubStep `yaml:"stub,omitempty"`
	Send          *SendStep `yaml:"send,omitempty"`
	ResetRequests bool      `yaml:"reset_requests,omitempty"`
}

// StubStep programs the mock dependency.
type StubStep struct {
	// Path is an upstream path, e.g. /auth.
	Path string `yaml:"path"`

	// Status is the HTTP status the path answers with.
	Status int `yaml:"status"`
}

// SendStep issues one gateway request.
type SendStep struct {
	// Action is sent verbatim, so invalid and empty actions can be exercised.
	Action string `yaml:"action"`

	// Token is a declared alias.
	Token string `yaml:"token,omitempty"`

	// TokenLiteral is sent as is.
	TokenLiteral *string `yaml:"token_literal,omitempty"`

	// Malformed picks a canonical invalid token shape (short, long,
	// lowercase, special, nonhex, empty).
	Malformed string `yaml:"malformed,omitempty"`

	// Key is valid (default), missing or invalid. Bodies answering a
	// missing or invalid key are not checked against the response schema.
	Key string `yaml:"key,omitempty"`

	// Omit sends an empty body.
	Omit bool `yaml:"omit,omitempty"`

	// Concurrent sends this many identical requests at once.
	Concurrent int `yaml:"concurrent,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a response. Unset fields are not checked.
type Expect struct {
	Status   int    `yaml:"status,omitempty"`
	StatusIn []int  `yaml:"status_in,omitempty"`
	Result   string `yaml:"result,omitempty"`

	// OKCount is the number of OK responses among concurrent requests.
	OKCount *int `yaml:"ok_count,omitempty"`
}

// Assertion checks the whole run.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Path is an upstream path (upstream_count, upstream_received).
	Path string `yaml:"path,omitempty"`

	// Token is an alias (upstream_received).
	Token string `yaml:"token,omitempty"`

	// Count is the expected number (upstream_count, status_count).
	Count int `yaml:"count,omitempty"`

	// Status is the status counted by status_count.
	Status int `yaml:"status,omitempty"`

	// Results is the expected result sequence (result_sequence).
	Results []string `yaml:"results,omitempty"`
}

// Assertion types.
const (
	AssertUpstreamCount    = "upstream_count"
	AssertUpstreamReceived = "upstream_received"
	AssertResultSequence   = "result_sequence"
	AssertStatusCount      = "status_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface at load time.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ScenarioFiles lists *.yaml and *.yml files directly under dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	aliases := make(map[string]bool, len(s.Tokens))
	for i, alias := range s.Tokens {
		if alias == "" {
			return fmt.Errorf("tokens[%d]: alias is empty", i)
		}
		if aliases[alias] {
			return fmt.Errorf("tokens[%d]: duplicate alias %q", i, alias)
		}
		aliases[alias] = true
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], aliases); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], aliases); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, aliases map[string]bool) error {
	kinds := 0
	if step.Stub != nil {
		kinds++
	}
	if step.Send != nil {
		kinds++
	}
	if step.ResetRequests {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of stub, send or reset_requests is required", index)
	}

	if st := step.Stub; st != nil {
		if !strings.HasPrefix(st.Path, "/") {
			return fmt.Errorf("steps[%d].stub: path must start with /", index)
		}
		if st.Status < 100 || st.Status > 599 {
			return fmt.Errorf("steps[%d].stub: status %d out of range", index, st.Status)
		}
		return nil
	}

	send := step.Send
	if send == nil {
		return nil
	}
	sources := 0
	if send.Token != "" {
		sources++
		if !aliases[send.Token] {
			return fmt.Errorf("steps[%d].send: undeclared token alias %q", index, send.Token)
		}
	}
	if send.TokenLiteral != nil {
		sources++
	}
	if send.Malformed != "" {
		sources++
		if !knownMalformed(send.Malformed) {
			return fmt.Errorf("steps[%d].send: unknown malformed kind %q", index, send.Malformed)
		}
	}
	if sources > 1 {
		return fmt.Errorf("steps[%d].send: token, token_literal and malformed are mutually exclusive", index)
	}
	if sources == 0 && !send.Omit {
		return fmt.Errorf("steps[%d].send: a token is required unless omit is set", index)
	}
	if _, err := driver.ParseKeyMode(send.Key); err != nil {
		return fmt.Errorf("steps[%d].send: %w", index, err)
	}
	if send.Concurrent < 0 {
		return fmt.Errorf("steps[%d].send: concurrent must be non-negative", index)
	}
	if e := send.Expect; e != nil {
		if e.Status != 0 && len(e.StatusIn) > 0 {
			return fmt.Errorf("steps[%d].send.expect: status and status_in are mutually exclusive", index)
		}
		if e.Result != "" && e.Result != "OK" && e.Result != "ERROR" {
			return fmt.Errorf("steps[%d].send.expect: result must be OK or ERROR, got %q", index, e.Result)
		}
		if e.OKCount != nil && send.Concurrent < 2 {
			return fmt.Errorf("steps[%d].send.expect: ok_count requires concurrent >= 2", index)
		}
		if send.Concurrent >= 2 && (e.Status != 0 || len(e.StatusIn) > 0 || e.Result != "") {
			return fmt.Errorf("steps[%d].send.expect: concurrent sends support ok_count only", index)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, aliases map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertUpstreamCount:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for upstream_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for upstream_count", index)
		}
	case AssertUpstreamReceived:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for upstream_received", index)
		}
		if !aliases[a.Token] {
			return fmt.Errorf("assertions[%d]: undeclared token alias %q for upstream_received", index, a.Token)
		}
	case AssertResultSequence:
		if len(a.Results) == 0 {
			return fmt.Errorf("assertions[%d]: results list is required for result_sequence", index)
		}
	case AssertStatusCount:
		if a.Status == 0 {
			return fmt.Errorf("assertions[%d]: status is required for status_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for status_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownMalformed(kind string) bool {
	for _, k := range token.MalformedKinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}
