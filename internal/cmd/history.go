package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/MakeNowJust/heredoc"
	"github.com/rand/hsml-launch/internal/history"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of launches to list")
	historyCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded launches",
	Long:  "List past launches with their exit status and resource usage, or show one launch in full",
	Example: heredoc.Doc(`
		# List the 20 most recent launches
		hsml-launch history

		# Show a single launch by ID prefix
		hsml-launch history 3f2a9c1e

		# Export the last 100 launches
		hsml-launch history -n 100 --json
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if _, err := os.Stat(cfg.HistoryFile()); os.IsNotExist(err) {
			if asJSON {
				fmt.Fprintln(out, "[]")
				return nil
			}
			fmt.Fprintln(out, "No launches recorded.")
			return nil
		}

		store, err := history.Open(history.Options{Path: cfg.HistoryFile()})
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()

		if len(args) == 1 {
			run, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no launch matches %q", args[0])
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, run)
			}
			printRun(out, run)
			return nil
		}

		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}
		if asJSON {
			if runs == nil {
				runs = []*history.Run{}
			}
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No launches recorded.")
			return nil
		}

		header := fmt.Sprintf("%-12s  %-19s  %-8s  %4s  %10s  %9s", "ID", "STARTED", "GPU", "EXIT", "DURATION", "PEAK MB")
		lipgloss.Fprintln(out, headerStyle.Render(header))
		for _, r := range runs {
			exit := fmt.Sprintf("%4d", r.ExitCode)
			if r.ExitCode != 0 {
				exit = failedStyle.Render(exit)
			}
			lipgloss.Fprintf(out, "%-12s  %-19s  %-8s  %s  %10s  %9.1f\n",
				shortID(r.ID),
				r.StartedAt.Local().Format(time.DateTime),
				displayGPU(r.GPUID),
				exit,
				r.Duration().Round(time.Second),
				r.PeakMemoryMB,
			)
		}
		return nil
	},
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func printRun(out io.Writer, r *history.Run) {
	fmt.Fprintf(out, "ID:          %s\n", r.ID)
	fmt.Fprintf(out, "GPU_ID:      %s\n", displayGPU(r.GPUID))
	fmt.Fprintf(out, "Exit code:   %d\n", r.ExitCode)
	fmt.Fprintf(out, "Started:     %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Ended:       %s\n", r.EndedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:    %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "Work dir:    %s\n", r.WorkDir)
	fmt.Fprintf(out, "Command:     %s -m %s %s\n", r.Python, r.Module, strings.Join(r.Args, " "))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintf(out, "  User CPU:    %dms\n", r.UserCPUMS)
	fmt.Fprintf(out, "  System CPU:  %dms\n", r.SystemCPUMS)
	fmt.Fprintf(out, "  Peak memory: %.1f MB\n", r.PeakMemoryMB)
	fmt.Fprintf(out, "  Wall time:   %dms\n", r.WallMS)
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// shortID trims the "run:" prefix and keeps the first eight characters of
// the UUID, which is enough for history lookups.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "run:")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func displayGPU(id string) string {
	if id == "" {
		return `""`
	}
	return id
}
