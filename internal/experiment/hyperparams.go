// Package experiment describes the flags the HSML training module accepts
// and the values the launcher forwards to it.
package experiment

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Module is the Python module the launcher runs with `python -m`.
const Module = "experiments.hsml"

// BoolStyle controls how boolean flags are rendered on the command line.
type BoolStyle string

const (
	// BoolValue renders booleans as a flag/value pair: --use-pool True.
	BoolValue BoolStyle = "value"
	// BoolPresence renders a true boolean as a bare flag and omits a false one.
	BoolPresence BoolStyle = "presence"
)

// Hyperparams holds the values forwarded to the training module.
type Hyperparams struct {
	ExperimentName     string  `json:"experiment_name" yaml:"experiment_name" jsonschema:"description=Name of the experiment run"`
	Seed               int     `json:"seed" yaml:"seed"`
	Dataset            string  `json:"dataset" yaml:"dataset" jsonschema:"description=Dataset the episodes are drawn from,example=meta"`
	NumClassesPerSet   int     `json:"num_classes_per_set" yaml:"num_classes_per_set" jsonschema:"description=Classes per episode (n-way)"`
	NumSamplesPerClass int     `json:"num_samples_per_class" yaml:"num_samples_per_class" jsonschema:"description=Support samples per class (k-shot)"`
	NumTargetSamples   int     `json:"num_target_samples" yaml:"num_target_samples" jsonschema:"description=Query samples per class"`
	BatchSize          int     `json:"batch_size" yaml:"batch_size" jsonschema:"description=Tasks per meta batch"`
	InnerTrainSteps    int     `json:"inner_train_steps" yaml:"inner_train_steps"`
	InnerValSteps      int     `json:"inner_val_steps" yaml:"inner_val_steps"`
	UsePool            bool    `json:"use_pool" yaml:"use_pool" jsonschema:"description=Enable task pooling"`
	PoolStartEpoch     int     `json:"pool_start_epoch" yaml:"pool_start_epoch"`
	MetaLearningRate   float64 `json:"meta_learning_rate" yaml:"meta_learning_rate"`
	InnerLearningRate  float64 `json:"inner_learning_rate" yaml:"inner_learning_rate"`
	Epochs             int     `json:"epochs" yaml:"epochs"`
	EpochLen           int     `json:"epoch_len" yaml:"epoch_len" jsonschema:"description=Meta batches per epoch"`
	UseWarmStart       bool    `json:"use_warm_start" yaml:"use_warm_start"`
}

// Default returns the values the launcher ships with.
func Default() Hyperparams {
	return Hyperparams{
		ExperimentName:     "hsml_meta_5way_1shot",
		Seed:               0,
		Dataset:            "meta",
		NumClassesPerSet:   5,
		NumSamplesPerClass: 1,
		NumTargetSamples:   15,
		BatchSize:          4,
		InnerTrainSteps:    5,
		InnerValSteps:      10,
		UsePool:            true,
		PoolStartEpoch:     10,
		MetaLearningRate:   0.001,
		InnerLearningRate:  0.01,
		Epochs:             50,
		EpochLen:           500,
		UseWarmStart:       true,
	}
}

// flag is a single forwarded flag before rendering.
type flag struct {
	name    string
	value   string
	boolean bool
}

// flagNames lists the flag names in the order they are forwarded.
func flagNames() []string {
	fs := Hyperparams{}.flags()
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.name
	}
	return names
}

func (h Hyperparams) flags() []flag {
	return []flag{
		{name: "--experiment-name", value: h.ExperimentName},
		{name: "--seed", value: strconv.Itoa(h.Seed)},
		{name: "--dataset", value: h.Dataset},
		{name: "--num-classes-per-set", value: strconv.Itoa(h.NumClassesPerSet)},
		{name: "--num-samples-per-class", value: strconv.Itoa(h.NumSamplesPerClass)},
		{name: "--num-target-samples", value: strconv.Itoa(h.NumTargetSamples)},
		{name: "--batch-size", value: strconv.Itoa(h.BatchSize)},
		{name: "--inner-train-steps", value: strconv.Itoa(h.InnerTrainSteps)},
		{name: "--inner-val-steps", value: strconv.Itoa(h.InnerValSteps)},
		{name: "--use-pool", value: pyBool(h.UsePool), boolean: true},
		{name: "--pool-start-epoch", value: strconv.Itoa(h.PoolStartEpoch)},
		{name: "--meta-learning-rate", value: formatFloat(h.MetaLearningRate)},
		{name: "--inner-learning-rate", value: formatFloat(h.InnerLearningRate)},
		{name: "--epochs", value: strconv.Itoa(h.Epochs)},
		{name: "--epoch-len", value: strconv.Itoa(h.EpochLen)},
		{name: "--use-warm-start", value: pyBool(h.UseWarmStart), boolean: true},
	}
}

// Args renders the hyperparameters as command-line arguments using the
// BoolValue style.
func (h Hyperparams) Args() []string {
	return h.ArgsWithStyle(BoolValue)
}

// ArgsWithStyle renders the hyperparameters as command-line arguments.
func (h Hyperparams) ArgsWithStyle(style BoolStyle) []string {
	fs := h.flags()
	args := make([]string, 0, 2*len(fs))
	for _, f := range fs {
		if f.boolean && style == BoolPresence {
			if f.value == "True" {
				args = append(args, f.name)
			}
			continue
		}
		args = append(args, f.name, f.value)
	}
	return args
}

// Override replaces fields by flag name. Names may be given with or without
// the leading dashes and with underscores instead of dashes.
// Two names that normalize to the same flag are an error.
func (h *Hyperparams) Override(values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		key := normalizeFlag(name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("flag %s overridden twice (%q and %q)", key, prev, name)
		}
		seen[key] = name
		if err := h.set(key, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hyperparams) set(name, raw string) error {
	var err error
	switch name {
	case "--experiment-name":
		h.ExperimentName = raw
	case "--seed":
		h.Seed, err = strconv.Atoi(raw)
	case "--dataset":
		h.Dataset = raw
	case "--num-classes-per-set":
		h.NumClassesPerSet, err = strconv.Atoi(raw)
	case "--num-samples-per-class":
		h.NumSamplesPerClass, err = strconv.Atoi(raw)
	case "--num-target-samples":
		h.NumTargetSamples, err = strconv.Atoi(raw)
	case "--batch-size":
		h.BatchSize, err = strconv.Atoi(raw)
	case "--inner-train-steps":
		h.InnerTrainSteps, err = strconv.Atoi(raw)
	case "--inner-val-steps":
		h.InnerValSteps, err = strconv.Atoi(raw)
	case "--use-pool":
		h.UsePool, err = parseBool(raw)
	case "--pool-start-epoch":
		h.PoolStartEpoch, err = strconv.Atoi(raw)
	case "--meta-learning-rate":
		h.MetaLearningRate, err = strconv.ParseFloat(raw, 64)
	case "--inner-learning-rate":
		h.InnerLearningRate, err = strconv.ParseFloat(raw, 64)
	case "--epochs":
		h.Epochs, err = strconv.Atoi(raw)
	case "--epoch-len":
		h.EpochLen, err = strconv.Atoi(raw)
	case "--use-warm-start":
		h.UseWarmStart, err = parseBool(raw)
	default:
		return fmt.Errorf("unknown flag %q", name)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", raw, name, err)
	}
	return nil
}

func normalizeFlag(name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "-")
	name = strings.ReplaceAll(name, "_", "-")
	return "--" + strings.ToLower(name)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	// Accept Python's spelling as well as Go's.
	switch strings.ToLower(s) {
	case "true", "t", "1", "yes", "y":
		return true, nil
	case "false", "f", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
