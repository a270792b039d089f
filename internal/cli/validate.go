package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/sessiongate/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationIssue is one problem in one scenario file.
type ValidationIssue struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenarios-dir>",
		Short: "Validate scenario files without running them",
		Long: `Load every scenario file in a directory and report schema errors,
undeclared token aliases, impossible expectations and duplicate scenario names.

Examples:
  sessiongate validate ./scenarios
  sessiongate validate ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(dir); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := harness.ScenarioFiles(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no scenario files found in %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files found in %s", dir))
	}

	issues := ValidateScenarioFiles(files)
	for _, f := range files {
		formatter.VerboseLog("checked %s", f)
	}

	result := ValidationResult{Valid: len(issues) == 0, Scenarios: len(files), Errors: issues}
	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			response.Status = "error"
			response.Error = &CLIError{Code: ErrCodeInvalid, Message: issues[0].Message}
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(formatter.Writer, "✓ %d scenario(s) valid\n", len(files))
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, issue := range issues {
			fmt.Fprintf(formatter.Writer, "%s\n  %s\n\n", issue.File, issue.Message)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}
	return nil
}

// ValidateScenarioFiles loads every file and reports load errors and scenario
// names used by more than one file.
func ValidateScenarioFiles(files []string) []ValidationIssue {
	var issues []ValidationIssue
	seen := make(map[string]string)
	for _, f := range files {
		s, err := harness.LoadScenario(f)
		if err != nil {
			issues = append(issues, ValidationIssue{File: f, Message: err.Error()})
			continue
		}
		if first, ok := seen[s.Name]; ok {
			issues = append(issues, ValidationIssue{
				File:    f,
				Message: fmt.Sprintf("scenario name %q already used by %s", s.Name, filepath.Base(first)),
			})
			continue
		}
		seen[s.Name] = f
	}
	return issues
}
