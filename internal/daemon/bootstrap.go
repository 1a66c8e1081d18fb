package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DaemonArgs returns the command line of the hidden daemon command.
func DaemonArgs(dataDir string, extra ...string) []string {
	args := []string{"daemon", "--data-dir", dataDir}
	return append(args, extra...)
}

// StartDaemon spawns the daemon for dataDir from the running executable.
// The daemon is detached from the parent process (runs independently).
func StartDaemon(dataDir string, extra ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	return StartDaemonWithPath(executable, dataDir, extra...)
}

// StartDaemonWithPath spawns the daemon from binaryPath.
func StartDaemonWithPath(binaryPath, dataDir string, extra ...string) error {
	cmd := exec.Command(binaryPath, DaemonArgs(dataDir, extra...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return cmd.Process.Release()
}
