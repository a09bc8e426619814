//go:build windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// terminateProcess force-kills the child. Windows has no signal semantics;
// taskkill tears down the whole process tree by id.
func terminateProcess(p *os.Process) {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid))
	if err := kill.Run(); err != nil {
		p.Kill()
	}
}

// classifyExit extracts the exit code from a finished command. There is no
// terminating-signal concept to report on this platform.
func classifyExit(cmd *exec.Cmd, waitErr error) ExitStatus {
	ps := cmd.ProcessState
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode()}
}

// wrapShellCommand builds the marker-protocol command line for cmd.exe.
func wrapShellCommand(command, marker string) string {
	return fmt.Sprintf("%s & echo %s:%%errorlevel%%", command, marker)
}
