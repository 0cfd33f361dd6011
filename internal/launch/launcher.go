// Package launch runs the HSML training module on a chosen GPU device.
//
// The launcher forwards the device identifier verbatim as GPU_ID and
// CUDA_VISIBLE_DEVICES, echoes it for the operator, and hands off to
// `python -m experiments.hsml` with a fixed argument list. Its exit code is
// the child's exit code.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/rand/hsml-launch/internal/experiment"
)

const (
	// ExitNotFound is reported when the interpreter cannot be found.
	ExitNotFound = 127
	// ExitCannotExecute is reported when the interpreter cannot be started.
	ExitCannotExecute = 126

	defaultStopGrace = 10 * time.Second
)

// Options configures the launcher.
type Options struct {
	// Python is the interpreter. Defaults to ResolvePython(WorkDir, "").
	Python string

	// Module is run with `python -m`. Defaults to experiment.Module.
	Module string

	// Args are forwarded verbatim after the module name.
	Args []string

	// WorkDir is the child's working directory. Defaults to cwd.
	WorkDir string

	// Env is the base environment. Defaults to os.Environ().
	Env []string

	// ExtraEnv is layered over Env before the GPU variables.
	ExtraEnv []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Strict rejects a missing or malformed device identifier before
	// anything is echoed or started.
	Strict bool

	// StopGrace is how long the child gets to exit after an interrupt is
	// forwarded before it is killed. Defaults to 10 seconds.
	StopGrace time.Duration
}

// Result describes a finished launch.
type Result struct {
	GPUID     string
	Argv      []string
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
	Usage     Usage
}

// Launcher starts the training process.
type Launcher struct {
	opts Options
}

// New creates a launcher, filling defaults for unset options.
func New(opts Options) (*Launcher, error) {
	if opts.WorkDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get cwd: %w", err)
		}
		opts.WorkDir = cwd
	}
	if opts.Python == "" {
		opts.Python = ResolvePython(opts.WorkDir, "")
	}
	if opts.Module == "" {
		opts.Module = experiment.Module
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Launcher{opts: opts}, nil
}

// Command returns the argv of the child process.
func (l *Launcher) Command() []string {
	argv := make([]string, 0, 3+len(l.opts.Args))
	argv = append(argv, l.opts.Python, "-m", l.opts.Module)
	return append(argv, l.opts.Args...)
}

// Environ returns the child's environment for the given device identifier.
func (l *Launcher) Environ(gpuID string) []string {
	env := MergeEnv(l.opts.Env, l.opts.ExtraEnv...)
	return MergeEnv(env, GPUEnv(gpuID)...)
}

// WorkDir returns the child's working directory.
func (l *Launcher) WorkDir() string {
	return l.opts.WorkDir
}

// Run echoes the device identifier, starts the child and blocks until it
// exits. A child that ran returns a Result with its exit code and a nil
// error, whatever that code is. A child that could not be started returns
// both a Result carrying the shell-style exit code and the start error.
func (l *Launcher) Run(ctx context.Context, gpuID string) (*Result, error) {
	if l.opts.Strict {
		if _, err := ParseDevices(gpuID); err != nil {
			return nil, err
		}
	}

	fmt.Fprintf(l.opts.Stdout, "shell: GPU_ID %s\n", gpuID)

	argv := l.Command()
	result := &Result{GPUID: gpuID, Argv: argv}

	// The terminal delivers Ctrl-C to the whole process group, so the child
	// already sees it. Swallow it here so the launcher outlives the child and
	// reports its exit status.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = l.opts.WorkDir
	cmd.Env = l.Environ(gpuID)
	cmd.Stdin = l.opts.Stdin
	cmd.Stdout = l.opts.Stdout
	cmd.Stderr = l.opts.Stderr
	cmd.Cancel = func() error {
		slog.Debug("Forwarding interrupt to child", "pid", cmd.Process.Pid)
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.opts.StopGrace

	result.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		result.EndedAt = time.Now()
		result.ExitCode = ExitCannotExecute
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			result.ExitCode = ExitNotFound
		}
		return result, fmt.Errorf("start %s: %w", argv[0], err)
	}
	slog.Debug("Started child", "pid", cmd.Process.Pid, "argv", argv, "gpu_id", gpuID)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				slog.Debug("Interrupt received, waiting for child", "signal", sig)
			case <-done:
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	result.EndedAt = time.Now()
	result.Usage = collectUsage(cmd.ProcessState, result.EndedAt.Sub(result.StartedAt))
	result.ExitCode = exitStatus(cmd.ProcessState)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			slog.Debug("Child wait returned", "error", waitErr)
		}
	}
	slog.Debug("Child exited", "exit_code", result.ExitCode, "wall_ms", result.Usage.WallTimeMS)

	return result, nil
}
