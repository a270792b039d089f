package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sessiongate/internal/token"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Count     int
	Malformed string
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print fresh or malformed tokens",
		Long: `Print tokens for manual requests against a gateway.

Valid tokens are 32 uppercase hex characters. --malformed prints a token of
one of the shapes the validation scenarios send: short, long, lowercase,
special, nonhex or empty.

Examples:
  sessiongate token
  sessiongate token -n 5
  sessiongate token --malformed lowercase`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of tokens")
	cmd.Flags().StringVar(&opts.Malformed, "malformed", "", "malformed shape to generate")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Count < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("count must be at least 1, got %d", opts.Count))
	}

	tokens := make([]string, 0, opts.Count)
	for range opts.Count {
		if opts.Malformed == "" {
			tokens = append(tokens, token.New())
			continue
		}
		tok, err := token.Malformed(token.MalformedKind(opts.Malformed))
		if err != nil {
			_ = formatter.Error(ErrCodeConfig, err.Error(), token.MalformedKinds)
			return WrapExitError(ExitCommandError, "invalid --malformed", err)
		}
		tokens = append(tokens, tok)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"tokens": tokens})
	}
	for _, tok := range tokens {
		fmt.Fprintln(formatter.Writer, tok)
	}
	return nil
}
