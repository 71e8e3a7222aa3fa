//go:build !windows

package bundle

import (
	"os/exec"
	"syscall"
)

// configureProcess runs the build in its own process group so cancellation
// also stops anything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}
	cmd.WaitDelay = stopTimeout
}
