//go:build !unix

package launch

import "os"

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return ExitCannotExecute
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
