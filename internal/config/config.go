// Package config loads harness and gateway settings from the environment.
// Command-line flags are bound over the parsed values, so flags win.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Harness configures `sessiongate test`.
type Harness struct {
	APIKey string `env:"SESSIONGATE_API_KEY" envDefault:"qazWSXedc"`

	// GatewayURL targets an already running gateway; no process is
	// supervised when it is set.
	GatewayURL string `env:"SESSIONGATE_GATEWAY_URL"`
	AppPort    int    `env:"SESSIONGATE_APP_PORT" envDefault:"8080"`

	// MockAddr is where the in-process mock listens. MockURL points at a mock
	// in another process instead; it is programmed through its admin API.
	MockAddr string `env:"SESSIONGATE_MOCK_ADDR" envDefault:"localhost:8888"`
	MockURL  string `env:"SESSIONGATE_MOCK_URL"`

	ArtifactDir  string `env:"SESSIONGATE_ARTIFACT_DIR" envDefault:"app"`
	ArtifactGlob string `env:"SESSIONGATE_ARTIFACT_GLOB" envDefault:"*"`
	AppLog       string `env:"SESSIONGATE_APP_LOG" envDefault:"target/app.log"`

	StartupTimeout time.Duration `env:"SESSIONGATE_STARTUP_TIMEOUT" envDefault:"30s"`
	PollInterval   time.Duration `env:"SESSIONGATE_POLL_INTERVAL" envDefault:"500ms"`
	GracePeriod    time.Duration `env:"SESSIONGATE_GRACE_PERIOD" envDefault:"5s"`
	RequestTimeout time.Duration `env:"SESSIONGATE_REQUEST_TIMEOUT" envDefault:"10s"`

	// Ledger is a SQLite path; empty disables recording.
	Ledger string `env:"SESSIONGATE_LEDGER"`
}

// Gateway configures the reference gateway binary.
type Gateway struct {
	Secret          string        `env:"SESSIONGATE_SECRET"`
	MockURL         string        `env:"SESSIONGATE_MOCK" envDefault:"http://localhost:8888"`
	Addr            string        `env:"SESSIONGATE_ADDR" envDefault:":8080"`
	UpstreamTimeout time.Duration `env:"SESSIONGATE_UPSTREAM_TIMEOUT" envDefault:"1s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadHarness parses Harness from the environment.
func LoadHarness() (Harness, error) {
	var cfg Harness
	err := ParseEnv(&cfg)
	return cfg, err
}

// LoadGateway parses Gateway from the environment.
func LoadGateway() (Gateway, error) {
	var cfg Gateway
	err := ParseEnv(&cfg)
	return cfg, err
}

// AppURL is the gateway base URL the harness drives.
func (h Harness) AppURL() string {
	if h.GatewayURL != "" {
		return h.GatewayURL
	}
	return fmt.Sprintf("http://localhost:%d", h.AppPort)
}

// Validate checks Harness for values no component can use.
func (h Harness) Validate() error {
	var errs []error
	if h.APIKey == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if h.AppPort <= 0 || h.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("app port %d out of range", h.AppPort))
	}
	if h.GatewayURL != "" {
		if err := checkURL(h.GatewayURL); err != nil {
			errs = append(errs, fmt.Errorf("gateway url: %w", err))
		}
	}
	if h.MockURL != "" {
		if err := checkURL(h.MockURL); err != nil {
			errs = append(errs, fmt.Errorf("mock url: %w", err))
		}
	}
	for name, d := range map[string]time.Duration{
		"startup timeout": h.StartupTimeout,
		"poll interval":   h.PollInterval,
		"grace period":    h.GracePeriod,
		"request timeout": h.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if h.PollInterval > h.StartupTimeout {
		errs = append(errs, fmt.Errorf("poll interval %s exceeds startup timeout %s", h.PollInterval, h.StartupTimeout))
	}
	return errors.Join(errs...)
}

// Validate checks Gateway.
func (g Gateway) Validate() error {
	var errs []error
	if g.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	if err := checkURL(g.MockURL); err != nil {
		errs = append(errs, fmt.Errorf("mock url: %w", err))
	}
	if g.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if g.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream timeout must be positive, got %s", g.UpstreamTimeout))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: host is required", raw)
	}
	return nil
}
