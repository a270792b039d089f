// Command sessiongate runs conformance scenarios against a token-session
// gateway.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sessiongate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
