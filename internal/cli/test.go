package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sessiongate/internal/config"
	"github.com/roach88/sessiongate/internal/contract"
	"github.com/roach88/sessiongate/internal/driver"
	"github.com/roach88/sessiongate/internal/harness"
	"github.com/roach88/sessiongate/internal/ledger"
	"github.com/roach88/sessiongate/internal/mock"
	"github.com/roach88/sessiongate/internal/supervisor"
)

// TestOptions holds flags for the test command. Config starts from the
// environment; flags override it.
type TestOptions struct {
	*RootOptions
	Config config.Harness

	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob on the file name)
	InProcess bool   // drive the reference gateway instead of an artifact

	envErr error
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	RunID  string   `json:"run_id,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Target    string           `json:"target"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}
	opts.Config, opts.envErr = config.LoadHarness()

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios against a gateway",
		Long: `Run conformance scenarios against a gateway.

By default the single artifact in --artifact-dir is launched with
--secret and --mock, and scenarios run once its endpoint answers. Use
--gateway-url for a gateway that is already running, or --in-process for the
reference gateway.

A scenario passes when every step expectation and assertion holds and, if
<scenarios-dir>/golden/<file>.golden exists, its trace matches it byte for
byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad configuration, gateway never became ready, etc.)

Examples:
  sessiongate test ./scenarios
  sessiongate test ./scenarios --filter "login*"
  sessiongate test ./scenarios --in-process --update
  sessiongate test ./scenarios --gateway-url http://localhost:9000 --mock-url http://localhost:8888
  sessiongate test ./scenarios --ledger runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.Update, "update", false, "regenerate golden files")
	f.StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	f.BoolVar(&opts.InProcess, "in-process", false, "run against the reference gateway in this process")

	c := &opts.Config
	f.StringVar(&c.APIKey, "api-key", c.APIKey, "API key the gateway expects")
	f.StringVar(&c.GatewayURL, "gateway-url", c.GatewayURL, "already running gateway; nothing is launched")
	f.IntVar(&c.AppPort, "app-port", c.AppPort, "port the launched artifact listens on")
	f.StringVar(&c.MockAddr, "mock-addr", c.MockAddr, "listen address of the mock dependency")
	f.StringVar(&c.MockURL, "mock-url", c.MockURL, "mock dependency in another process, programmed through /__admin/")
	f.StringVar(&c.ArtifactDir, "artifact-dir", c.ArtifactDir, "directory holding the gateway artifact")
	f.StringVar(&c.ArtifactGlob, "artifact-glob", c.ArtifactGlob, "pattern selecting the artifact")
	f.StringVar(&c.AppLog, "app-log", c.AppLog, "file receiving the artifact's output")
	f.DurationVar(&c.StartupTimeout, "startup-timeout", c.StartupTimeout, "how long the artifact may take to become ready")
	f.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "per-request timeout")
	f.StringVar(&c.Ledger, "ledger", c.Ledger, "SQLite file recording every run")

	return cmd
}

// target is the gateway and mock a test run drives.
type target struct {
	name       string
	gatewayURL string
	mock       harness.Mock
	closers    []func() error
}

func (t *target) close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = append(errs, t.closers[i]())
	}
	return errors.Join(errs...)
}

func runTests(ctx context.Context, opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.envErr != nil {
		_ = formatter.Error(ErrCodeConfig, opts.envErr.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid environment", opts.envErr)
	}
	if err := opts.Config.Validate(); err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if _, err := os.Stat(scenariosDir); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(formatter, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger(formatter.GetErrWriter())

	tgt, err := startTarget(ctx, opts, logger)
	if err != nil {
		return reportStartup(formatter, err)
	}
	defer func() {
		if err := tgt.close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	d, err := driver.NewClient(driver.Config{
		BaseURL: tgt.gatewayURL,
		APIKey:  opts.Config.APIKey,
		Timeout: opts.Config.RequestTimeout,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create driver", err)
	}
	h, err := harness.New(harness.Config{Driver: d, Mock: tgt.mock, Logger: logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create harness", err)
	}

	var led *ledger.Ledger
	if opts.Config.Ledger != "" {
		led, err = ledger.Open(opts.Config.Ledger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open ledger", err)
		}
		defer func() {
			if err := led.Close(); err != nil {
				logger.Warn("close ledger", "error", err)
			}
		}()
	}

	result := TestResult{
		Target:    tgt.name,
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(ctx, h, led, tgt.name, file, opts, formatter)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

// startTarget brings up the mock and the gateway the scenarios will drive.
func startTarget(ctx context.Context, opts *TestOptions, logger *slog.Logger) (*target, error) {
	cfg := opts.Config

	if opts.InProcess {
		c, err := contract.Default()
		if err != nil {
			return nil, err
		}
		proc, err := harness.StartInProcess(cfg.APIKey, c.Upstream.Timeout(), logger)
		if err != nil {
			return nil, err
		}
		return &target{
			name:       "in-process",
			gatewayURL: proc.GatewayURL,
			mock:       proc.MockAdmin(),
			closers:    []func() error{proc.Close},
		}, nil
	}

	tgt := &target{}
	if cfg.MockURL != "" {
		tgt.mock = mock.NewAdminClient(cfg.MockURL)
	} else {
		m := mock.New(logger)
		if err := m.Start(cfg.MockAddr); err != nil {
			return nil, err
		}
		tgt.closers = append(tgt.closers, m.Close)
		tgt.mock = mock.NewAdminClient(m.URL())
	}

	if cfg.GatewayURL != "" {
		tgt.name = cfg.GatewayURL
		tgt.gatewayURL = cfg.GatewayURL
		return tgt, nil
	}

	sup, err := supervisor.New(supervisor.Config{
		ArtifactDir:    cfg.ArtifactDir,
		ArtifactGlob:   cfg.ArtifactGlob,
		Secret:         cfg.APIKey,
		MockURL:        tgt.mock.URL(),
		BaseURL:        cfg.AppURL(),
		LogPath:        cfg.AppLog,
		StartupTimeout: cfg.StartupTimeout,
		PollInterval:   cfg.PollInterval,
		GracePeriod:    cfg.GracePeriod,
		Logger:         logger,
	})
	if err != nil {
		return nil, errors.Join(err, tgt.close())
	}
	if err := sup.Start(ctx); err != nil {
		return nil, errors.Join(err, tgt.close())
	}
	tgt.closers = append(tgt.closers, sup.Stop)
	tgt.name = sup.Artifact()
	tgt.gatewayURL = sup.Config().BaseURL
	return tgt, nil
}

// reportStartup prints why no gateway is available. A startup failure is a
// command error, never a scenario failure.
func reportStartup(formatter *OutputFormatter, err error) error {
	var startErr *supervisor.StartupError
	if !errors.As(err, &startErr) {
		_ = formatter.Error(ErrCodeStartup, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to start gateway", err)
	}

	details := map[string]string{"reason": string(startErr.Reason)}
	if startErr.Artifact != "" {
		details["artifact"] = startErr.Artifact
	}
	if startErr.LogPath != "" {
		details["log"] = startErr.LogPath
	}
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeStartup, startErr.Error(), details)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ gateway did not start (%s)\n", startErr.Reason)
		fmt.Fprintf(formatter.Writer, "  %v\n", startErr)
	}
	return WrapExitError(ExitCommandError, "gateway failed to start", err)
}

// findScenarioFiles lists scenario files in dir whose base name, without the
// extension, matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	all, err := harness.ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return all, nil
	}

	var files []string
	for _, path := range all {
		base := filepath.Base(path)
		matched, err := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			files = append(files, path)
		}
	}
	return files, nil
}

// runScenario executes one scenario file and reports it as it finishes.
func runScenario(ctx context.Context, h *harness.Harness, led *ledger.Ledger, targetName, file string, opts *TestOptions, formatter *OutputFormatter) ScenarioResult {
	w := formatter.Writer
	if opts.Format == "json" {
		w = io.Discard
	}
	fail := func(name string, errs ...string) ScenarioResult {
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range errs {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
		return ScenarioResult{Name: name, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}

	started := time.Now()
	result, err := h.Run(ctx, scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution error: %v", err))
	}

	var runID string
	if led != nil {
		run, exchanges, calls := harness.LedgerEntries(scenario.Name, targetName, started, time.Since(started), result)
		runID, err = led.Record(ctx, run, exchanges, calls)
		if err != nil {
			formatter.VerboseLog("ledger: %v", err)
		}
	}

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("snapshot error: %v", err))
	}
	goldenPath := goldenFilePath(file)

	if opts.Update {
		if err := writeGolden(goldenPath, snapshot); err != nil {
			return fail(scenario.Name, fmt.Sprintf("golden update error: %v", err))
		}
		if !result.Pass {
			sr := fail(scenario.Name, result.Errors...)
			sr.RunID = runID
			return sr
		}
		fmt.Fprintf(w, "✓ %s (golden updated)\n", scenario.Name)
		return ScenarioResult{Name: scenario.Name, Pass: true, RunID: runID}
	}

	errs := append([]string(nil), result.Errors...)
	golden, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Assertions only.
	case err != nil:
		errs = append(errs, fmt.Sprintf("golden comparison error: %v", err))
	case !bytes.Equal(golden, snapshot):
		errs = append(errs, "trace does not match golden file (run with --update to regenerate)")
	}

	if len(errs) > 0 {
		sr := fail(scenario.Name, errs...)
		sr.RunID = runID
		return sr
	}
	fmt.Fprintf(w, "✓ %s\n", scenario.Name)
	return ScenarioResult{Name: scenario.Name, Pass: true, RunID: runID}
}

// goldenFilePath returns <dir>/golden/<name>.golden for <dir>/<name>.yaml.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), harness.GoldenDir, name+".golden")
}

func writeGolden(path string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := formatter.Encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputTestText(formatter *OutputFormatter, result TestResult) error {
	w := formatter.Writer

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total (%s)\n", result.Passed, result.Failed, result.Total, result.Target)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
