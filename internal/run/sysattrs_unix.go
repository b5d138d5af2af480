//go:build !windows

package run

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so that
// termination reaches anything it forks, and a terminal Ctrl-C does not hit
// it before the controller decides to.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the child's process group to exit.
func terminate(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// forceKill sends SIGKILL to the child's process group.
func forceKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// exitCode maps a finished process to its exit code. A process killed by a
// signal reports 128+signal, as a shell would.
func exitCode(ps *os.ProcessState) *int {
	if ps == nil {
		return nil
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return intPtr(128 + int(ws.Signal()))
	}
	return intPtr(ps.ExitCode())
}
