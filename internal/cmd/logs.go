package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/MakeNowJust/heredoc"
	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func init() {
	logsCmd.Flags().IntP("tail", "t", 50, "Number of trailing records to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Keep printing records as they are written")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show launcher logs",
	Long:  "Print records from the launcher log file in human-readable form",
	Example: heredoc.Doc(`
		# Show the last 50 records
		hsml-launch logs

		# Follow the log while an experiment runs in another terminal
		hsml-launch logs -f
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")

		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		path := cfg.LogFile()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(out, "No log file at %s\n", path)
			return nil
		}

		lines, err := lastLines(path, n)
		if err != nil {
			return err
		}
		for _, line := range lines {
			lipgloss.Fprintln(out, formatRecord(line))
		}
		if !follow {
			return nil
		}

		t, err := tail.TailFile(path, tail.Config{
			Follow:   true,
			ReOpen:   true,
			Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
			Logger:   tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("follow %s: %w", path, err)
		}
		defer t.Cleanup()

		ctx := cmd.Context()
		for {
			select {
			case <-ctx.Done():
				return t.Stop()
			case line, ok := <-t.Lines:
				if !ok {
					return t.Err()
				}
				if line.Err != nil {
					return line.Err
				}
				lipgloss.Fprintln(out, formatRecord(line.Text))
			}
		}
	},
}

// lastLines returns up to n trailing lines of the file.
func lastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	t, err := tail.TailFile(path, tail.Config{MustExist: true, Logger: tail.DiscardingLogger})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer t.Cleanup()

	ring := make([]string, 0, n)
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line.Text)
	}
	return ring, nil
}

var levelStyles = map[string]lipgloss.Style{
	"DEBUG": lipgloss.NewStyle().Faint(true),
	"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// formatRecord renders one JSON log record as "time LEVEL msg key=value...".
// Lines that are not JSON are returned unchanged.
func formatRecord(line string) string {
	if !gjson.Valid(line) {
		return line
	}
	rec := gjson.Parse(line)

	level := rec.Get("level").String()
	styled := fmt.Sprintf("%-5s", level)
	if style, ok := levelStyles[level]; ok {
		styled = style.Render(styled)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s",
		rec.Get("time").Time().Local().Format("2006-01-02 15:04:05"),
		styled,
		rec.Get("msg").String(),
	)
	rec.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "time", "level", "msg":
		default:
			fmt.Fprintf(&b, " %s=%s", key.String(), value.String())
		}
		return true
	})
	return b.String()
}
