//go:build !unix

package phase

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

func detach(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func signalExitCode(err *exec.ExitError) (int, bool) {
	return 0, false
}
