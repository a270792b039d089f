package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sessiongate/internal/config"
	"github.com/roach88/sessiongate/internal/gateway"
	"github.com/roach88/sessiongate/internal/session"
	"github.com/roach88/sessiongate/internal/telemetry"
	"github.com/roach88/sessiongate/internal/upstream"
)

// NewGatewayCommand creates the root command of the reference gateway
// binary. It accepts the same --secret and --mock flags the supervisor hands
// to any artifact, so it can be dropped into the artifact directory.
func NewGatewayCommand() *cobra.Command {
	opts := &RootOptions{Format: "text"}
	cfg, envErr := config.LoadGateway()

	cmd := &cobra.Command{
		Use:   "sessiongated",
		Short: "Reference token-session gateway",
		Long: `sessiongated serves POST /endpoint with LOGIN, ACTION and LOGOUT, authenticating
tokens against the dependency at --mock and holding sessions in memory.

Tracing is exported over OTLP HTTP when SESSIONGATE_OTEL_ENDPOINT is set.

Examples:
  sessiongated --secret=qazWSXedc --mock=http://localhost:8888
  SESSIONGATE_SECRET=qazWSXedc sessiongated --addr :9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return WrapExitError(ExitCommandError, "invalid environment", envErr)
			}
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			logger := opts.Logger(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return WrapExitError(ExitCommandError, "listen", err)
			}
			return ServeGateway(ctx, cfg, ln, logger)
		},
	}

	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log every request decision")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "log format (json|text)")
	cmd.Flags().StringVar(&cfg.Secret, "secret", cfg.Secret, "API key clients must send")
	cmd.Flags().StringVar(&cfg.MockURL, "mock", cfg.MockURL, "base URL of the dependency")
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	cmd.Flags().DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "per-call dependency timeout")

	return cmd
}

// ServeGateway runs the reference gateway on ln until ctx ends.
func ServeGateway(ctx context.Context, cfg config.Gateway, ln net.Listener, logger *slog.Logger) error {
	shutdown, err := telemetry.Setup(ctx, "sessiongated")
	if err != nil {
		_ = ln.Close()
		return WrapExitError(ExitCommandError, "telemetry setup", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	dep := upstream.NewClient(cfg.MockURL, cfg.UpstreamTimeout)
	logger.Info("dependency configured", "url", dep.BaseURL(), "timeout", cfg.UpstreamTimeout)

	g, err := gateway.New(gateway.Config{
		Secret:   cfg.Secret,
		Store:    session.NewMemoryStore(),
		Upstream: dep,
		Logger:   logger,
	})
	if err != nil {
		_ = ln.Close()
		return WrapExitError(ExitCommandError, "create gateway", err)
	}

	if err := gateway.NewServer(g, ln.Addr().String()).Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "gateway error", err)
	}
	logger.Info("gateway stopped")
	return nil
}
