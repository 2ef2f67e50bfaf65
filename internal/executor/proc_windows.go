//go:build windows

package executor

import (
	"log/slog"
	"os"
	"os/exec"
	"time"
)

func setProcessGroup(cmd *exec.Cmd) {}

// terminateGroup has no group semantics on Windows; the direct child is
// killed and grandchildren are left to the OS.
func terminateGroup(pid int, grace time.Duration, logger *slog.Logger) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	logger.Info("Killing process", "pid", pid)
	_ = proc.Kill()
}
