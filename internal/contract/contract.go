// Package contract holds the gateway contract shared by the reference
// gateway and the conformance harness: wire names, action literals, the status
// code of every error kind, upstream paths and supervisor timing defaults.
//
// The contract is written in CUE (contract.cue) so its constraints are checked
// when it is loaded, then decoded into Go structs.
package contract

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/sessiongate/internal/token"
)

//go:embed contract.cue
var defaultSource []byte

// Contract is the decoded gateway contract.
type Contract struct {
	Endpoint  Endpoint  `json:"endpoint"`
	Token     TokenRule `json:"token"`
	Actions   []string  `json:"actions"`
	Upstream  Upstream  `json:"upstream"`
	Results   Results   `json:"results"`
	Status    Statuses  `json:"status"`
	Readiness Readiness `json:"readiness"`
}

// Endpoint describes the gateway's single HTTP endpoint.
type Endpoint struct {
	Path        string `json:"path"`
	Header      string `json:"header"`
	TokenField  string `json:"tokenField"`
	ActionField string `json:"actionField"`
}

// TokenRule documents the accepted token shape.
type TokenRule struct {
	Pattern string `json:"pattern"`
	Length  int    `json:"length"`
}

// Upstream names the dependency's paths and the per-call timeout.
type Upstream struct {
	Auth      string `json:"auth"`
	DoAction  string `json:"doAction"`
	TimeoutMS int    `json:"timeoutMs"`
}

// Timeout returns the upstream per-call timeout.
func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

// Results holds the literal values of the response "result" field.
type Results struct {
	OK    string `json:"ok"`
	Error string `json:"error"`
}

// Statuses maps each outcome kind to its HTTP status code.
type Statuses struct {
	OK              int `json:"ok"`
	Validation      int `json:"validation"`
	Unauthorized    int `json:"unauthorized"`
	NotFound        int `json:"notFound"`
	Conflict        int `json:"conflict"`
	UpstreamFailure int `json:"upstreamFailure"`
}

// Readiness holds supervisor defaults.
type Readiness struct {
	Port           int `json:"port"`
	TimeoutSeconds int `json:"timeoutSeconds"`
	PollIntervalMS int `json:"pollIntervalMs"`
	GracePeriodMS  int `json:"gracePeriodMs"`
}

// StartupTimeout returns the readiness deadline.
func (r Readiness) StartupTimeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// PollInterval returns the readiness probe interval.
func (r Readiness) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// GracePeriod returns how long Stop waits before escalating to a kill.
func (r Readiness) GracePeriod() time.Duration {
	return time.Duration(r.GracePeriodMS) * time.Millisecond
}

// IsAction reports whether s is one of the contract's action literals.
// Matching is exact and case-sensitive.
func (c *Contract) IsAction(s string) bool {
	for _, a := range c.Actions {
		if a == s {
			return true
		}
	}
	return false
}

var (
	defaultOnce     sync.Once
	defaultContract *Contract
	defaultErr      error
)

// Default returns the embedded contract. It is loaded once.
func Default() (*Contract, error) {
	defaultOnce.Do(func() {
		defaultContract, defaultErr = Load(defaultSource, "contract.cue")
	})
	return defaultContract, defaultErr
}

// Load compiles CUE source, checks it is concrete, and decodes it.
// filename is used in error positions only.
func Load(src []byte, filename string) (*Contract, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile contract: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate contract: %w", err)
	}

	var c Contract
	if err := v.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}
	return &c, nil
}

// check enforces the invariants CUE cannot express against Go code.
func (c *Contract) check() error {
	if c.Token.Pattern != token.Pattern || c.Token.Length != token.Length {
		return fmt.Errorf("token rule %q/%d does not match validator %q/%d",
			c.Token.Pattern, c.Token.Length, token.Pattern, token.Length)
	}
	if len(c.Actions) == 0 {
		return fmt.Errorf("actions list is empty")
	}
	seen := make(map[string]bool, len(c.Actions))
	for _, a := range c.Actions {
		if seen[a] {
			return fmt.Errorf("duplicate action literal %q", a)
		}
		seen[a] = true
	}
	if c.Upstream.Auth == c.Upstream.DoAction {
		return fmt.Errorf("upstream paths must differ, both are %q", c.Upstream.Auth)
	}
	return nil
}
