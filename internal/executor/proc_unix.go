//go:build !windows

package executor

import (
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup puts the child in its own process group so signals
// reach grandchildren the tool forks.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the process group, waits out the grace
// period, then SIGKILLs whatever is left. Errors from signalling an
// already-gone group are expected and ignored.
func terminateGroup(pid int, grace time.Duration, logger *slog.Logger) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process already reaped; nothing to signal.
		return
	}

	logger.Info("Terminating process group", "pgid", pgid, "grace", grace)
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if syscall.Kill(-pgid, 0) != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	logger.Warn("Grace period elapsed, killing process group", "pgid", pgid)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
