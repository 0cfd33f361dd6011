package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/rand/hsml-launch/internal/config"
	"github.com/rand/hsml-launch/internal/launch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	// config show flags
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
		configSchemaCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing hsml-launch configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the current effective configuration after merging defaults and the config file",
	Example: heredoc.Doc(`
		# Show config in human-readable format
		hsml-launch config show

		# Show config as YAML
		hsml-launch config show --yaml
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		}

		if asYAML {
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			defer encoder.Close()
			return encoder.Encode(cfg)
		}

		forwarded, err := cfg.Args()
		if err != nil {
			return err
		}

		source := cfg.Path()
		if source == "" {
			source = "(defaults)"
		}

		// Human-readable format
		fmt.Fprintln(out, "Effective Configuration")
		fmt.Fprintln(out, "=======================")
		fmt.Fprintf(out, "Loaded from:         %s\n", source)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Options:")
		fmt.Fprintf(out, "  Data Directory:    %s\n", cfg.Options.DataDirectory)
		fmt.Fprintf(out, "  Debug:             %v\n", cfg.Options.Debug)
		fmt.Fprintf(out, "  History:           %v\n", cfg.Options.History)
		fmt.Fprintf(out, "  Strict:            %v\n", cfg.Options.Strict)
		fmt.Fprintf(out, "  Stop Grace:        %s\n", cfg.Options.StopGrace)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Python:")
		fmt.Fprintf(out, "  Interpreter:       %s\n", launch.ResolvePython(cwd, cfg.Python.Interpreter))
		fmt.Fprintf(out, "  Module:            %s\n", cfg.Python.Module)
		fmt.Fprintf(out, "  Load .env:         %v\n", cfg.Python.DotEnv)
		fmt.Fprintln(out)

		fmt.Fprintf(out, "Forwarded arguments (%s booleans):\n", cfg.Experiment.BoolStyle)
		for i := 0; i < len(forwarded); i++ {
			if i+1 < len(forwarded) && !strings.HasPrefix(forwarded[i+1], "--") {
				fmt.Fprintf(out, "  %-24s %s\n", forwarded[i], forwarded[i+1])
				i++
				continue
			}
			fmt.Fprintf(out, "  %s\n", forwarded[i])
		}

		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  "Open the configuration file in your default editor",
	Example: heredoc.Doc(`
		# Edit config with $EDITOR
		hsml-launch config edit
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			return err
		}

		configPath := cfg.Path()
		if configPath == "" {
			// Create default config in data directory
			configPath = filepath.Join(cfg.Options.DataDirectory, "config.yaml")
			if err := os.MkdirAll(cfg.Options.DataDirectory, 0755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(config.DefaultFile), 0644); err != nil {
				return fmt.Errorf("create default config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created new config file: %s\n", configPath)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			editor = "vi"
		}

		execCmd := exec.Command(editor, configPath)
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr

		return execCmd.Run()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the configuration and forwarded hyperparameters for errors and warnings",
	Example: heredoc.Doc(`
		# Validate configuration
		hsml-launch config validate
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ Configuration error: %v\n", err)
			return err
		}

		errs, warnings := validateConfig(cfg, cwd)

		if len(errs) > 0 {
			fmt.Fprintln(out, "Errors:")
			for _, e := range errs {
				fmt.Fprintf(out, "  ✗ %s\n", e)
			}
		}

		if len(warnings) > 0 {
			fmt.Fprintln(out, "Warnings:")
			for _, w := range warnings {
				fmt.Fprintf(out, "  ⚠ %s\n", w)
			}
		}

		if len(errs) == 0 && len(warnings) == 0 {
			fmt.Fprintln(out, "✓ Configuration is valid")
		} else if len(errs) == 0 {
			fmt.Fprintln(out, "\n✓ Configuration is valid with warnings")
		}

		if len(errs) > 0 {
			return fmt.Errorf("configuration has %d error(s)", len(errs))
		}
		return nil
	},
}

// validateConfig collects configuration problems. Hyperparameter problems
// are errors; environment problems that only matter at launch time are
// warnings.
func validateConfig(cfg *config.Config, cwd string) (errs, warnings []string) {
	h, err := cfg.Hyperparams()
	if err != nil {
		errs = append(errs, err.Error())
	} else if err := h.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, line)
		}
	}

	python := launch.ResolvePython(cwd, cfg.Python.Interpreter)
	if _, err := exec.LookPath(python); err != nil {
		warnings = append(warnings, fmt.Sprintf("Python interpreter %q not found", python))
	}

	modulePath := filepath.Join(cwd, filepath.FromSlash(strings.ReplaceAll(cfg.Python.Module, ".", "/")))
	if _, err := os.Stat(modulePath + ".py"); err != nil {
		if _, err := os.Stat(filepath.Join(modulePath, "__main__.py")); err != nil {
			warnings = append(warnings, fmt.Sprintf("Module %s not found under %s", cfg.Python.Module, cwd))
		}
	}

	if _, err := os.Stat(cfg.Options.DataDirectory); os.IsNotExist(err) {
		warnings = append(warnings, fmt.Sprintf("Data directory does not exist: %s (will be created)", cfg.Options.DataDirectory))
	}
	return errs, warnings
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Display the paths where configuration files are loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd, cwd)
		if err != nil {
			return err
		}

		fmt.Fprintln(out, "Configuration Paths (in order of precedence):")
		fmt.Fprintln(out)

		for _, p := range config.SearchPaths(cwd, cfg.Options.DataDirectory) {
			status := "✗"
			if _, err := os.Stat(p); err == nil {
				status = "✓"
			}
			if p == cfg.Path() {
				status += " (in use)"
			}
			fmt.Fprintf(out, "  %s %s\n", status, p)
		}

		fmt.Fprintln(out)
		fmt.Fprintf(out, "Data directory: %s\n", cfg.Options.DataDirectory)
		fmt.Fprintf(out, "Log file:       %s\n", cfg.LogFile())
		fmt.Fprintf(out, "History:        %s\n", cfg.HistoryFile())

		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Schema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}
