// Command sessiongated is the reference token-session gateway.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sessiongate/internal/cli"
)

func main() {
	if err := cli.NewGatewayCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
