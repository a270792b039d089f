// Package upstream calls the gateway's external authorization dependency.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = time.Second

// Path selects one of the dependency's endpoints.
type Path string

// Dependency endpoints.
const (
	PathAuth     Path = "/auth"
	PathDoAction Path = "/doAction"
)

// Outcome classifies an upstream response.
type Outcome struct {
	// Success is true iff the dependency answered with a 2xx status.
	Success bool

	// StatusCode is the observed status, zero on transport failure.
	StatusCode int

	// Err is the transport-level error, if any.
	Err error
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch {
	case o.Success:
		return fmt.Sprintf("success (%d)", o.StatusCode)
	case o.Err != nil:
		return fmt.Sprintf("failure (%v)", o.Err)
	default:
		return fmt.Sprintf("failure (%d)", o.StatusCode)
	}
}

// Caller is what the gateway needs from the dependency.
type Caller interface {
	Call(ctx context.Context, path Path, token string) Outcome
}

// Client is an HTTP Caller. It performs exactly one request per call:
// no retries, no caching.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the dependency at baseURL.
// A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// BaseURL returns the dependency base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call posts token as a form field to path and classifies the response.
func (c *Client) Call(ctx context.Context, path Path, token string) Outcome {
	ctx, span := otel.Tracer("sessiongate/upstream").Start(ctx, "upstream "+string(path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	out := c.do(ctx, path, token)
	span.SetAttributes(
		attribute.String("upstream.path", string(path)),
		attribute.Int("http.response.status_code", out.StatusCode),
	)
	if !out.Success {
		span.SetStatus(codes.Error, out.String())
	}
	return out
}

func (c *Client) do(ctx context.Context, path Path, token string) Outcome {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+string(path), strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return Outcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
	}
}
