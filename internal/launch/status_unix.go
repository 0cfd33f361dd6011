//go:build unix

package launch

import (
	"os"
	"syscall"
)

// exitStatus maps a process state to the status a POSIX shell would report:
// the exit code, or 128+N for a child killed by signal N.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return ExitCannotExecute
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
