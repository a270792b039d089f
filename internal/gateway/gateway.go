// Package gateway implements the reference token-session gateway: the oracle
// the conformance harness checks implementations against.
//
// # Checks
//
// Every request passes four checks in a fixed order. A request that fails a
// check never reaches a later one, so it never touches the session store or
// the upstream dependency:
//
//  1. API key: the configured secret must be presented.
//  2. Action: exactly LOGIN, ACTION or LOGOUT.
//  3. Token: 32 uppercase hex characters.
//  4. Session state machine.
//
// # State machine
//
// Per token the state is Absent or Active, held only in the session store.
//
//	Absent  LOGIN   auth ok     -> Active  OK
//	Absent  LOGIN   auth fail   -> Absent  upstream_failure
//	Active  LOGIN               -> Active  conflict (no upstream call)
//	Active  ACTION  doAction ok -> Active  OK
//	Active  ACTION  doAction fail -> Active upstream_failure
//	Absent  ACTION              -> Absent  not_found
//	Active  LOGOUT              -> Absent  OK (no upstream call)
//	Absent  LOGOUT              -> Absent  not_found
//
// Upstream failures are reported in the same request and never retried.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/roach88/sessiongate/internal/contract"
	"github.com/roach88/sessiongate/internal/session"
	"github.com/roach88/sessiongate/internal/token"
	"github.com/roach88/sessiongate/internal/upstream"
)

// Action literals.
const (
	ActionLogin  = "LOGIN"
	ActionAction = "ACTION"
	ActionLogout = "LOGOUT"
)

// Request is one gateway call, already extracted from its transport.
type Request struct {
	// APIKey is the presented shared secret. HasAPIKey distinguishes an
	// absent header from an empty one.
	APIKey    string
	HasAPIKey bool

	Action string
	Token  string
}

// Body is the JSON response body.
type Body struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// Response is the outcome of Handle.
type Response struct {
	Kind   Kind
	Status int
	Body   Body
}

// Config wires a Gateway.
type Config struct {
	Secret   string
	Contract *contract.Contract
	Store    session.Store
	Upstream upstream.Caller
	Logger   *slog.Logger
}

// Gateway is the session state machine. Safe for concurrent use.
type Gateway struct {
	secret   []byte
	contract *contract.Contract
	store    session.Store
	upstream upstream.Caller
	logger   *slog.Logger

	authPath     upstream.Path
	doActionPath upstream.Path
}

// New validates cfg and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, errors.New("gateway secret is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Upstream == nil {
		return nil, errors.New("upstream caller is required")
	}
	c := cfg.Contract
	if c == nil {
		var err error
		if c, err = contract.Default(); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		secret:       []byte(cfg.Secret),
		contract:     c,
		store:        cfg.Store,
		upstream:     cfg.Upstream,
		logger:       logger,
		authPath:     upstream.Path(c.Upstream.Auth),
		doActionPath: upstream.Path(c.Upstream.DoAction),
	}, nil
}

// Handle runs the checks and the state machine for req.
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	err := g.process(ctx, req)
	kind := KindOf(err)

	resp := Response{Kind: kind, Status: kind.Status(g.contract)}
	if err == nil {
		resp.Body = Body{Result: g.contract.Results.OK}
	} else {
		resp.Body = Body{Result: g.contract.Results.Error, Message: err.Error()}
	}

	g.logger.Info("request handled",
		"action", req.Action,
		"token", redact(req.Token),
		"kind", kind.String(),
		"status", resp.Status,
	)
	return resp
}

func (g *Gateway) process(ctx context.Context, req Request) error {
	if !req.HasAPIKey {
		return newError(KindUnauthorized, "missing API key")
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), g.secret) != 1 {
		return newError(KindUnauthorized, "invalid API key")
	}
	if !g.contract.IsAction(req.Action) {
		return newError(KindValidation, "unknown action %q", req.Action)
	}
	if !token.IsValid(req.Token) {
		return newError(KindValidation, "token must match %s", token.Pattern)
	}

	switch req.Action {
	case ActionLogin:
		return g.login(ctx, req.Token)
	case ActionAction:
		return g.action(ctx, req.Token)
	case ActionLogout:
		return g.logout(req.Token)
	}
	// The contract lists an action the state machine does not know.
	return newError(KindValidation, "unsupported action %q", req.Action)
}

func (g *Gateway) login(ctx context.Context, tok string) error {
	if g.store.Exists(tok) {
		return newError(KindConflict, "session already active")
	}
	out := g.upstream.Call(ctx, g.authPath, tok)
	if !out.Success {
		return &Error{Kind: KindUpstreamFailure, Message: "auth " + out.String(), Err: out.Err}
	}
	// A concurrent LOGIN for the same token may have won the race.
	if !g.store.TryCreate(tok) {
		return newError(KindConflict, "session already active")
	}
	return nil
}

func (g *Gateway) action(ctx context.Context, tok string) error {
	if !g.store.Exists(tok) {
		return newError(KindNotFound, "no active session")
	}
	out := g.upstream.Call(ctx, g.doActionPath, tok)
	if !out.Success {
		// The session stays active.
		return &Error{Kind: KindUpstreamFailure, Message: "doAction " + out.String(), Err: out.Err}
	}
	return nil
}

func (g *Gateway) logout(tok string) error {
	if !g.store.TryDelete(tok) {
		return newError(KindNotFound, "no active session")
	}
	return nil
}

// redact keeps enough of a token to correlate log lines.
func redact(tok string) string {
	if len(tok) <= 8 {
		return tok
	}
	return tok[:8] + "…"
}
