//go:build unix

package launch

import (
	"os"
	"runtime"
	"syscall"
)

func peakMemoryMB(state *os.ProcessState) float64 {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	// Maxrss is bytes on darwin and kilobytes on linux.
	if runtime.GOOS == "darwin" {
		return float64(ru.Maxrss) / (1024 * 1024)
	}
	return float64(ru.Maxrss) / 1024
}
