//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

func isolate(*exec.Cmd) {}

// terminate has no graceful signal to send; Stop falls back to the kill
// after the grace period.
func terminate(*exec.Cmd) error { return nil }

func forceKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
