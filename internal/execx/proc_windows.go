//go:build windows

package execx

import (
	"os"
	"os/exec"
)

func configureCommandProcess(cmd *exec.Cmd) {}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func peakRSS(st *os.ProcessState) (int64, bool) {
	// No rusage equivalent wired up; fall back to unmeasured samples.
	return 0, false
}
