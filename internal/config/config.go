// Package config loads the launcher configuration from YAML files layered
// over built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rand/hsml-launch/internal/experiment"
	"gopkg.in/yaml.v3"
)

const (
	appName = "hsml-launch"

	// DataDirEnv overrides the default data directory.
	DataDirEnv = "HSML_LAUNCH_DATA_DIR"
)

// Config is the effective launcher configuration.
type Config struct {
	Options    Options    `json:"options" yaml:"options" jsonschema:"description=General launcher options"`
	Python     Python     `json:"python" yaml:"python" jsonschema:"description=Interpreter and module to run"`
	Experiment Experiment `json:"experiment" yaml:"experiment" jsonschema:"description=Values forwarded to the training module"`

	// path is the file the config was read from, empty for pure defaults.
	path string
}

// Options are general launcher settings.
type Options struct {
	DataDirectory string        `json:"data_directory,omitempty" yaml:"data_directory,omitempty" jsonschema:"description=Directory for logs and launch history"`
	Debug         bool          `json:"debug,omitempty" yaml:"debug,omitempty" jsonschema:"description=Log debug output to stderr,default=false"`
	History       bool          `json:"history" yaml:"history" jsonschema:"description=Record launches in the history database,default=true"`
	Strict        bool          `json:"strict,omitempty" yaml:"strict,omitempty" jsonschema:"description=Validate the device identifier and hyperparameters before launching,default=false"`
	StopGrace     time.Duration `json:"stop_grace,omitempty" yaml:"stop_grace,omitempty" jsonschema:"type=string,description=Time the child gets after an interrupt before it is killed as a Go duration string,default=10s,example=30s"`
}

// Python selects what gets executed.
type Python struct {
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty" jsonschema:"description=Interpreter path; empty means nearest .venv or python,example=/opt/conda/bin/python"`
	Module      string `json:"module" yaml:"module" jsonschema:"description=Module run with python -m,default=experiments.hsml"`
	DotEnv      bool   `json:"dotenv" yaml:"dotenv" jsonschema:"description=Load .env from the working directory into the child environment,default=true"`
}

// Experiment configures the forwarded hyperparameters.
type Experiment struct {
	BoolStyle   experiment.BoolStyle   `json:"bool_style" yaml:"bool_style" jsonschema:"enum=value,enum=presence,default=value"`
	Hyperparams experiment.Hyperparams `json:"hyperparams" yaml:"hyperparams"`

	// Overrides replace single forwarded values by flag name.
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty" jsonschema:"description=Per-flag overrides keyed by flag name,example=epochs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Options: Options{
			History:   true,
			StopGrace: 10 * time.Second,
		},
		Python: Python{
			Module: experiment.Module,
			DotEnv: true,
		},
		Experiment: Experiment{
			BoolStyle:   experiment.BoolValue,
			Hyperparams: experiment.Default(),
		},
	}
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Hyperparams returns the configured hyperparameters with overrides applied.
func (c *Config) Hyperparams() (experiment.Hyperparams, error) {
	h := c.Experiment.Hyperparams
	if err := h.Override(c.Experiment.Overrides); err != nil {
		return h, fmt.Errorf("experiment overrides: %w", err)
	}
	return h, nil
}

// Args returns the argument list forwarded to the module.
func (c *Config) Args() ([]string, error) {
	h, err := c.Hyperparams()
	if err != nil {
		return nil, err
	}
	return h.ArgsWithStyle(c.Experiment.BoolStyle), nil
}

// Validate fills defaults for unset values and rejects invalid settings.
func (c *Config) Validate() error {
	if c.Python.Module == "" {
		c.Python.Module = experiment.Module
	}
	if c.Options.StopGrace <= 0 {
		c.Options.StopGrace = 10 * time.Second
	}
	switch c.Experiment.BoolStyle {
	case "":
		c.Experiment.BoolStyle = experiment.BoolValue
	case experiment.BoolValue, experiment.BoolPresence:
	default:
		return fmt.Errorf("experiment.bool_style: unknown style %q", c.Experiment.BoolStyle)
	}
	if _, err := c.Hyperparams(); err != nil {
		return err
	}
	return nil
}

// SearchPaths returns the config file locations in order of precedence.
func SearchPaths(cwd, dataDir string) []string {
	return []string{
		filepath.Join(cwd, "."+appName+".yaml"),
		filepath.Join(cwd, "."+appName+".yml"),
		filepath.Join(dataDir, "config.yaml"),
	}
}

// DefaultDataDir returns the data directory used when none is given.
func DefaultDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

// Init loads the configuration for cwd. The first existing file in
// SearchPaths wins; without one, defaults are used. A non-empty dataDir
// overrides both the default and the file's data_directory.
func Init(cwd, dataDir string, debug bool) (*Config, error) {
	cfg := Default()

	lookupDir := dataDir
	if lookupDir == "" {
		lookupDir = DefaultDataDir()
	}

	for _, p := range SearchPaths(cwd, lookupDir) {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		cfg.path = p
		break
	}

	switch {
	case dataDir != "":
		cfg.Options.DataDirectory = dataDir
	case cfg.Options.DataDirectory == "":
		cfg.Options.DataDirectory = lookupDir
	}
	if debug {
		cfg.Options.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LogFile returns the launcher's log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.Options.DataDirectory, "logs", appName+".log")
}

// HistoryFile returns the launch history database path.
func (c *Config) HistoryFile() string {
	return filepath.Join(c.Options.DataDirectory, "history.db")
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&Config{})
	s.Title = appName + " configuration"
	return json.MarshalIndent(s, "", "  ")
}

// DefaultFile is written by `config edit` when no configuration exists.
const DefaultFile = `# hsml-launch configuration
# Run "hsml-launch config schema" for every available option.

# options:
#   history: true
#   strict: false
#   stop_grace: 10s

# python:
#   interpreter: /opt/conda/envs/hsml/bin/python
#   module: experiments.hsml
#   dotenv: true

# experiment:
#   bool_style: value
#   overrides:
#     epochs: "80"
#     dataset: miniImageNet
`
