package history

import (
	"github.com/rand/hsml-launch/internal/launch"
)

// FromResult converts a finished launch into a history record.
func FromResult(res *launch.Result, workDir string) *Run {
	run := &Run{
		GPUID:        res.GPUID,
		WorkDir:      workDir,
		StartedAt:    res.StartedAt,
		EndedAt:      res.EndedAt,
		ExitCode:     res.ExitCode,
		UserCPUMS:    res.Usage.UserCPUTimeMS,
		SystemCPUMS:  res.Usage.SystemCPUTimeMS,
		PeakMemoryMB: res.Usage.PeakMemoryMB,
		WallMS:       res.Usage.WallTimeMS,
	}
	// argv is [python, -m, module, args...]
	if len(res.Argv) > 0 {
		run.Python = res.Argv[0]
	}
	if len(res.Argv) > 2 {
		run.Module = res.Argv[2]
	}
	if len(res.Argv) > 3 {
		run.Args = append([]string(nil), res.Argv[3:]...)
	} else {
		run.Args = []string{}
	}
	return run
}
