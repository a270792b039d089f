// Package supervisor boots the gateway under test as a separate process, gates
// on readiness with a deadline, and tears it down deterministically.
//
// Lifecycle: NotStarted -> Starting -> Ready -> Stopped. A failed start goes
// straight to Stopped and leaves no process behind.
//
// Readiness is an HTTP probe of the primary endpoint: any HTTP response,
// including 4xx and 5xx, means the process is listening. Only connection-level
// failures count as not ready. The probe cannot tell a misconfigured gateway
// from a correct one; the scenarios do that.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/sessiongate/internal/contract"
)

// State is the supervisor's view of the process.
type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CommandFunc builds the command that launches artifact.
type CommandFunc func(artifact string, cfg Config) *exec.Cmd

// Config controls discovery, launch and readiness.
type Config struct {
	// ArtifactDir is searched for exactly one file matching ArtifactGlob.
	ArtifactDir  string
	ArtifactGlob string

	// Secret and MockURL are handed to the artifact.
	Secret  string
	MockURL string

	// BaseURL is where the artifact listens; the probe posts to
	// BaseURL+EndpointPath.
	BaseURL      string
	EndpointPath string

	// LogPath receives the artifact's stdout and stderr.
	LogPath string

	StartupTimeout time.Duration
	PollInterval   time.Duration
	GracePeriod    time.Duration

	// Command overrides CommandFor.
	Command CommandFunc

	Logger *slog.Logger
}

// withDefaults fills zero fields from c.
func (cfg Config) withDefaults(c *contract.Contract) Config {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "app"
	}
	if cfg.ArtifactGlob == "" {
		cfg.ArtifactGlob = "*"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%d", c.Readiness.Port)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = c.Endpoint.Path
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join("target", "app.log")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = c.Readiness.StartupTimeout()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = c.Readiness.PollInterval()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = c.Readiness.GracePeriod()
	}
	if cfg.Command == nil {
		cfg.Command = CommandFor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Supervisor owns one artifact process. Safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	logFile  *os.File
	exited   chan struct{}
	waitErr  error
	artifact string
}

// New creates a supervisor. Zero Config fields take the contract's defaults.
func New(cfg Config) (*Supervisor, error) {
	c, err := contract.Default()
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(c)
	return &Supervisor{cfg: cfg, logger: cfg.Logger, state: NotStarted}, nil
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Artifact returns the launched artifact path, empty before Start.
func (s *Supervisor) Artifact() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

func (s *Supervisor) setState(st State) {
	s.logger.Info("supervisor state", "from", s.state.String(), "to", st.String())
	s.state = st
}

// FindArtifact returns the single regular, non-hidden file in dir matching
// glob. Zero or several matches are an error.
func FindArtifact(dir, glob string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", fmt.Errorf("bad artifact pattern %q: %w", glob, err)
	}
	var found []string
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		found = append(found, m)
	}
	switch len(found) {
	case 0:
		return "", &StartupError{Reason: ReasonNoArtifact, Err: fmt.Errorf("no file matching %q in %s", glob, dir)}
	case 1:
		return found[0], nil
	default:
		return "", &StartupError{Reason: ReasonMultipleArtifacts, Err: fmt.Errorf("%d files match %q in %s: %s",
			len(found), glob, dir, strings.Join(found, ", "))}
	}
}

// CommandFor builds the launch command for artifact. Jar files run under
// java with system properties; anything else is executed directly with flags.
func CommandFor(artifact string, cfg Config) *exec.Cmd {
	if strings.EqualFold(filepath.Ext(artifact), ".jar") {
		return exec.Command("java",
			"-Dsecret="+cfg.Secret,
			"-Dmock="+cfg.MockURL,
			"-jar", artifact)
	}
	path := artifact
	if !filepath.IsAbs(path) && !strings.ContainsRune(path, filepath.Separator) {
		path = "." + string(filepath.Separator) + path
	}
	return exec.Command(path,
		"--secret="+cfg.Secret,
		"--mock="+cfg.MockURL)
}

// Start launches the artifact and blocks until it is ready, the startup
// deadline passes, the process exits, or ctx ends. Any failure returns a
// *StartupError and leaves no process running. Start on a ready supervisor
// is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Ready:
		s.mu.Unlock()
		return nil
	case Starting:
		s.mu.Unlock()
		return errors.New("supervisor is already starting")
	case Stopped:
		s.mu.Unlock()
		return errors.New("supervisor was stopped; create a new one")
	}
	s.setState(Starting)
	s.mu.Unlock()

	if err := s.launch(); err != nil {
		s.kill()
		s.mu.Lock()
		s.setState(Stopped)
		s.mu.Unlock()
		return err
	}

	if err := s.waitReady(ctx); err != nil {
		s.kill()
		s.mu.Lock()
		s.setState(Stopped)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		s.kill()
		return s.stoppedDuringStart()
	}
	s.setState(Ready)
	s.mu.Unlock()
	return nil
}

// stoppedDuringStart reports a Stop that arrived before the process was
// ready.
func (s *Supervisor) stoppedDuringStart() error {
	return &StartupError{
		Reason:   ReasonCanceled,
		Artifact: s.Artifact(),
		LogPath:  s.cfg.LogPath,
		Err:      errors.New("supervisor stopped during startup"),
	}
}

func (s *Supervisor) launch() error {
	artifact, err := FindArtifact(s.cfg.ArtifactDir, s.cfg.ArtifactGlob)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.LogPath), 0o755); err != nil {
		return &StartupError{Reason: ReasonLaunch, Artifact: artifact, Err: fmt.Errorf("create log dir: %w", err)}
	}
	logFile, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &StartupError{Reason: ReasonLaunch, Artifact: artifact, Err: fmt.Errorf("open log: %w", err)}
	}

	cmd := s.cfg.Command(artifact, s.cfg)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return &StartupError{Reason: ReasonLaunch, Artifact: artifact, LogPath: s.cfg.LogPath, Err: err}
	}
	s.logger.Info("artifact launched", "artifact", artifact, "pid", cmd.Process.Pid, "log", s.cfg.LogPath)

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.logFile = logFile
	s.exited = exited
	s.artifact = artifact
	stopped := s.state == Stopped
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(exited)
	}()

	// Stop saw no process yet and left it to us.
	if stopped {
		return s.stoppedDuringStart()
	}
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(s.cfg.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	probeTimeout := s.cfg.PollInterval
	if probeTimeout < time.Second {
		probeTimeout = time.Second
	}
	client := &http.Client{Timeout: probeTimeout}
	url := s.cfg.BaseURL + s.cfg.EndpointPath
	start := time.Now()
	fail := func(reason Reason, err error) error {
		return &StartupError{Reason: reason, Artifact: s.Artifact(), LogPath: s.cfg.LogPath, Err: err}
	}

	for attempt := 1; ; attempt++ {
		if probe(ctx, client, url) {
			s.logger.Info("artifact ready", "attempts", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}
		select {
		case <-ctx.Done():
			return fail(ReasonCanceled, ctx.Err())
		case <-s.exited:
			s.mu.Lock()
			werr := s.waitErr
			s.mu.Unlock()
			if werr == nil {
				werr = errors.New("exit status 0")
			}
			return fail(ReasonExited, werr)
		case <-deadline.C:
			return fail(ReasonTimeout, fmt.Errorf("%s not ready after %s", url, s.cfg.StartupTimeout))
		case <-ticker.C:
		}
	}
}

// probe reports whether anything answered HTTP at url.
func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(""))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

// Stop terminates the process group: SIGTERM, then SIGKILL once the grace
// period elapses. It is idempotent and safe when nothing was started. A Stop
// that lands before Start has launched anything makes Start kill the process
// and fail with ReasonCanceled.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state == NotStarted || s.state == Stopped {
		s.state = Stopped
		s.mu.Unlock()
		return nil
	}
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()

	var stopErr error
	if cmd != nil {
		if err := terminate(cmd); err != nil {
			s.logger.Warn("terminate artifact", "error", err)
		}
		select {
		case <-exited:
		case <-time.After(s.cfg.GracePeriod):
			s.logger.Warn("artifact ignored SIGTERM; killing", "grace", s.cfg.GracePeriod)
			if err := forceKill(cmd); err != nil {
				stopErr = fmt.Errorf("kill artifact: %w", err)
			}
			<-exited
		}
	}

	s.mu.Lock()
	s.closeLog()
	s.setState(Stopped)
	s.mu.Unlock()
	return stopErr
}

// kill force-kills a partially started process and waits for it.
func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := forceKill(cmd); err != nil {
		s.logger.Debug("kill artifact", "error", err)
	}
	<-exited
	s.mu.Lock()
	s.closeLog()
	s.mu.Unlock()
}

func (s *Supervisor) closeLog() {
	if s.logFile != nil {
		_ = s.logFile.Close()
		s.logFile = nil
	}
}
