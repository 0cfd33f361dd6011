package launch

import (
	"os"
	"time"
)

// Usage contains resource usage of a finished child process.
type Usage struct {
	// UserCPUTimeMS is the user CPU time consumed in milliseconds.
	UserCPUTimeMS int64 `json:"user_cpu_ms"`

	// SystemCPUTimeMS is the system CPU time consumed in milliseconds.
	SystemCPUTimeMS int64 `json:"system_cpu_ms"`

	// PeakMemoryMB is the peak resident set size in megabytes.
	PeakMemoryMB float64 `json:"peak_memory_mb"`

	// WallTimeMS is the wall-clock time of the run in milliseconds.
	WallTimeMS int64 `json:"wall_ms"`
}

// TotalCPUTimeMS returns user plus system CPU time.
func (u Usage) TotalCPUTimeMS() int64 {
	return u.UserCPUTimeMS + u.SystemCPUTimeMS
}

func collectUsage(state *os.ProcessState, wall time.Duration) Usage {
	u := Usage{WallTimeMS: wall.Milliseconds()}
	if state == nil {
		return u
	}
	u.UserCPUTimeMS = state.UserTime().Milliseconds()
	u.SystemCPUTimeMS = state.SystemTime().Milliseconds()
	u.PeakMemoryMB = peakMemoryMB(state)
	return u
}
