package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/rand/hsml-launch/internal/config"
	"github.com/rand/hsml-launch/internal/history"
	"github.com/rand/hsml-launch/internal/launch"
	applog "github.com/rand/hsml-launch/internal/log"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "devel"

// exitCode is the status the process exits with once the command returns.
// A launch sets it to the child's exit status.
var exitCode int

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Working directory for the launch and config lookup")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Directory for logs and launch history")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Log debug output to stderr")

	rootCmd.Flags().Bool("dry-run", false, "Print the environment and command line without launching")
	rootCmd.Flags().Bool("strict", false, "Validate the device identifier and hyperparameters before launching")
	rootCmd.Flags().String("python", "", "Python interpreter (default: nearest .venv, then python)")
	rootCmd.Flags().String("module", "", "Module to run with python -m (default: experiments.hsml)")
	rootCmd.Flags().Bool("no-history", false, "Do not record this launch in the history database")

	rootCmd.AddCommand(
		configCmd,
		historyCmd,
		logsCmd,
	)
}

var rootCmd = &cobra.Command{
	Use:   "hsml-launch [GPU_ID]",
	Short: "Run the HSML meta-learning experiment on a GPU",
	Long: heredoc.Doc(`
		Run the hierarchically structured meta-learning (HSML) experiment.

		The GPU identifier is forwarded verbatim as GPU_ID and CUDA_VISIBLE_DEVICES,
		echoed as "shell: GPU_ID <id>", and python -m experiments.hsml is started with
		the configured hyperparameters. The exit status is the experiment's exit status.

		Without an identifier both variables are set to the empty string; pass --strict
		to reject that instead.
	`),
	Example: heredoc.Doc(`
		# Train on GPU 0
		hsml-launch 0

		# Make two devices visible; the list is not split or parsed
		hsml-launch 0,1

		# Show what would run
		hsml-launch --dry-run 2

		# Refuse malformed identifiers and out-of-range hyperparameters
		hsml-launch --strict 1
	`),
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runLaunch,
}

func runLaunch(cmd *cobra.Command, args []string) error {
	gpuID := ""
	if len(args) > 0 {
		gpuID = args[0]
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	strictFlag, _ := cmd.Flags().GetBool("strict")
	pythonFlag, _ := cmd.Flags().GetString("python")
	moduleFlag, _ := cmd.Flags().GetString("module")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, cwd)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	strict := strictFlag || cfg.Options.Strict
	if strict {
		h, err := cfg.Hyperparams()
		if err == nil {
			err = h.Validate()
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "hsml-launch: invalid hyperparameters:\n%v\n", err)
			exitCode = 2
			return nil
		}
	}

	forwarded, err := cfg.Args()
	if err != nil {
		return err
	}

	python := pythonFlag
	if python == "" {
		python = cfg.Python.Interpreter
	}
	module := moduleFlag
	if module == "" {
		module = cfg.Python.Module
	}

	var extraEnv []string
	if cfg.Python.DotEnv {
		extraEnv, err = launch.LoadDotEnv(cwd)
		if err != nil {
			return err
		}
	}

	l, err := launch.New(launch.Options{
		Python:    launch.ResolvePython(cwd, python),
		Module:    module,
		Args:      forwarded,
		WorkDir:   cwd,
		ExtraEnv:  extraEnv,
		Stdin:     cmd.InOrStdin(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
		Strict:    strict,
		StopGrace: cfg.Options.StopGrace,
	})
	if err != nil {
		return err
	}

	if dryRun {
		if strict {
			if _, err := launch.ParseDevices(gpuID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "hsml-launch: %v\n", err)
				exitCode = 2
				return nil
			}
		}
		line, err := l.ShellLine(gpuID)
		if err != nil {
			return err
		}
		if len(extraEnv) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", filepath.Join(cwd, ".env"))
			for _, kv := range extraEnv {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", kv)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := l.Run(ctx, gpuID)
	if result == nil {
		// Strict validation rejected the identifier before anything ran.
		fmt.Fprintf(cmd.ErrOrStderr(), "hsml-launch: %v\n", err)
		exitCode = 2
		return nil
	}
	if err != nil {
		slog.Error("Failed to start experiment", "error", err, "python", result.Argv[0])
		fmt.Fprintf(cmd.ErrOrStderr(), "hsml-launch: %v\n", err)
	}

	exitCode = result.ExitCode
	slog.Info("Experiment finished",
		"gpu_id", gpuID,
		"exit_code", result.ExitCode,
		"wall_ms", result.Usage.WallTimeMS,
		"peak_memory_mb", result.Usage.PeakMemoryMB,
	)

	if cfg.Options.History && !noHistory {
		recordRun(ctx, cfg, result, cwd)
	}
	return nil
}

// recordRun stores the launch in the history database. Failures are logged
// and never change the exit status.
func recordRun(ctx context.Context, cfg *config.Config, result *launch.Result, cwd string) {
	store, err := history.Open(history.Options{
		Path:              cfg.HistoryFile(),
		CreateIfNotExists: true,
	})
	if err != nil {
		slog.Warn("Failed to open history", "error", err)
		return
	}
	defer store.Close()

	run := history.FromResult(result, cwd)
	if err := store.Save(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("Failed to record launch", "error", err)
		return
	}
	slog.Debug("Recorded launch", "run_id", run.ID)
}

// ResolveCwd returns the --cwd flag as an absolute directory, or the
// process working directory.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get cwd: %w", err)
		}
		return wd, nil
	}

	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cwd: %w", err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("cwd: %s is not a directory", abs)
	}
	return abs, nil
}

func loadConfig(cmd *cobra.Command, cwd string) (*config.Config, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Init(cwd, dataDir, debug)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	applog.Setup(cfg.LogFile(), cfg.Options.Debug)
	slog.Debug("Loaded config", "path", cfg.Path(), "data_dir", cfg.Options.DataDirectory)
}

// Execute runs the root command and exits with the launched experiment's
// exit status.
func Execute() {
	// Ctrl-C reaches the child through the process group; only SIGTERM is
	// turned into cancellation, which the launcher forwards as an interrupt.
	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(syscall.SIGTERM),
	)
	applog.Close()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
