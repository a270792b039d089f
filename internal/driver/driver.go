// Package driver sends one HTTP request per logical gateway action and
// reports what came back, including whether the body honours the response
// schema.
package driver

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/sessiongate/internal/contract"
)

//go:embed response.schema.json
var responseSchema []byte

const schemaURL = "https://sessiongate.local/response.schema.json"

// DefaultInvalidKey is presented in KeyInvalid mode.
const DefaultInvalidKey = "wrongKey123"

// KeyMode selects what the driver does with the API key header.
type KeyMode string

const (
	KeyValid   KeyMode = "valid"
	KeyMissing KeyMode = "missing"
	KeyInvalid KeyMode = "invalid"
)

// ParseKeyMode accepts the empty string as KeyValid.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(s) {
	case "", KeyValid:
		return KeyValid, nil
	case KeyMissing, KeyInvalid:
		return KeyMode(s), nil
	}
	return "", fmt.Errorf("unknown key mode %q (want valid, missing or invalid)", s)
}

// Request is one logical gateway call.
type Request struct {
	Action string
	Token  string
	Key    KeyMode

	// Omit sends no form fields at all.
	Omit bool
}

// Response is what the gateway answered.
type Response struct {
	Status  int
	Result  string
	Message string
	Body    []byte
	Elapsed time.Duration

	// SchemaErr is set when Body is not a valid response document.
	SchemaErr error
}

// Config wires a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	InvalidKey string
	Contract   *contract.Contract
	Timeout    time.Duration
}

// Client drives a gateway over HTTP. Safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	invalidKey string
	contract   *contract.Contract
	httpClient *http.Client
	schema     *jsonschema.Schema
}

// NewClient compiles the response schema and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("driver base URL is required")
	}
	c := cfg.Contract
	if c == nil {
		var err error
		if c, err = contract.Default(); err != nil {
			return nil, err
		}
	}
	if cfg.InvalidKey == "" {
		cfg.InvalidKey = DefaultInvalidKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + c.Endpoint.Path,
		apiKey:     cfg.APIKey,
		invalidKey: cfg.InvalidKey,
		contract:   c,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		schema:     schema,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Endpoint returns the full URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send performs req. A non-nil error means no HTTP response was received;
// every HTTP status, including 5xx, is a Response.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader = http.NoBody
	if !req.Omit {
		form := url.Values{
			c.contract.Endpoint.TokenField:  {req.Token},
			c.contract.Endpoint.ActionField: {req.Action},
		}
		body = strings.NewReader(form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	switch req.Key {
	case "", KeyValid:
		httpReq.Header.Set(c.contract.Endpoint.Header, c.apiKey)
	case KeyInvalid:
		httpReq.Header.Set(c.contract.Endpoint.Header, c.invalidKey)
	case KeyMissing:
	default:
		return nil, fmt.Errorf("unknown key mode %q", req.Key)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Action, c.endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{Status: resp.StatusCode, Body: raw, Elapsed: time.Since(start)}
	out.SchemaErr = c.decode(raw, out)
	return out, nil
}

// decode fills Result and Message and validates raw against the schema.
func (c *Client) decode(raw []byte, out *Response) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	if m, ok := doc.(map[string]any); ok {
		out.Result, _ = m["result"].(string)
		out.Message, _ = m["message"].(string)
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("response violates schema: %w", err)
	}
	return nil
}

// Login sends LOGIN for tok with the valid key.
func (c *Client) Login(ctx context.Context, tok string) (*Response, error) {
	return c.Send(ctx, Request{Action: "LOGIN", Token: tok, Key: KeyValid})
}

// Action sends ACTION for tok with the valid key.
func (c *Client) Action(ctx context.Context, tok string) (*Response, error) {
	return c.Send(ctx, Request{Action: "ACTION", Token: tok, Key: KeyValid})
}

// Logout sends LOGOUT for tok with the valid key.
func (c *Client) Logout(ctx context.Context, tok string) (*Response, error) {
	return c.Send(ctx, Request{Action: "LOGOUT", Token: tok, Key: KeyValid})
}
