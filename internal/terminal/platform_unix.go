//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// terminateProcess asks the child to shut down gracefully. POSIX has signal
// semantics; a SIGKILL escalation happens in Session.terminate if the child
// ignores this.
func terminateProcess(p *os.Process) {
	p.Signal(syscall.SIGTERM)
}

// classifyExit extracts code and terminating signal from a finished command.
func classifyExit(cmd *exec.Cmd, waitErr error) ExitStatus {
	ps := cmd.ProcessState
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return ExitStatus{Code: ps.ExitCode()}
}

// wrapShellCommand builds the marker-protocol command line for an
// interactive POSIX shell: the marker plus exit code is echoed after the
// wrapped command completes.
func wrapShellCommand(command, marker string) string {
	return fmt.Sprintf("{ %s; } && echo %s:$?", command, marker)
}
