package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sessiongate/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Scenario   string
	FailedOnly bool
	Limit      int
}

// RunDetail is one recorded run with everything the gateway exchanged.
type RunDetail struct {
	Run       ledger.Run            `json:"run"`
	Exchanges []ledger.Exchange     `json:"exchanges"`
	Upstream  []ledger.UpstreamCall `json:"upstream"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <ledger.db> [run-id]",
		Short: "Show runs recorded by test --ledger",
		Long: `List scenario runs recorded in a ledger, oldest first. With a run id,
show that run's requests and the upstream calls the mock received.

Examples:
  sessiongate history runs.db
  sessiongate history runs.db --scenario login --failed
  sessiongate history runs.db 5f1c0e2a-8d4b-4c61-9a7e-2b3d4f5a6c7e`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 2 {
				runID = args[1]
			}
			return runHistory(opts, args[0], runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only failed runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "keep the most recent N runs")

	return cmd
}

func runHistory(opts *HistoryOptions, path, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	// Open would create an empty ledger.
	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("ledger not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("ledger not found: %s", path))
	}
	led, err := ledger.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	if runID != "" {
		run, exchanges, calls, err := led.ReadRun(ctx, runID)
		if errors.Is(err, ledger.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		detail := RunDetail{Run: run, Exchanges: exchanges, Upstream: calls}
		if formatter.Format == "json" {
			return formatter.Success(detail)
		}
		outputRunDetail(formatter, detail)
		return nil
	}

	runs, err := led.ListRuns(ctx, ledger.Filter{
		Scenario:   opts.Scenario,
		FailedOnly: opts.FailedOnly,
		Limit:      opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCENARIO\tRESULT\tTARGET\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Scenario, passLabel(run.Passed), run.Target,
			run.StartedAt.UTC().Format(time.RFC3339), run.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func outputRunDetail(formatter *OutputFormatter, d RunDetail) {
	w := formatter.Writer
	fmt.Fprintf(w, "%s %s against %s: %s\n", d.Run.ID, d.Run.Scenario, d.Run.Target, passLabel(d.Run.Passed))
	for _, e := range d.Run.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}

	fmt.Fprintln(w, "\nRequests:")
	for _, ex := range d.Exchanges {
		fmt.Fprintf(w, "  [%d] %s %s key=%s -> %d %s", ex.Seq, ex.Action, ex.Token, ex.KeyMode, ex.Status, ex.Result)
		if ex.Message != "" {
			fmt.Fprintf(w, " (%s)", ex.Message)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nUpstream:")
	for _, c := range d.Upstream {
		fmt.Fprintf(w, "  [%d] %s %s\n", c.Seq, c.Path, c.Body)
	}
}

func passLabel(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}
