package experiment

import (
	"errors"
	"fmt"
	"slices"
)

// Datasets accepted by the training module's dataset loaders.
var Datasets = []string{
	"omniglot",
	"miniImageNet",
	"meta",
	"multi",
	"CUB_Bird",
	"DTD_Texture",
	"FGVC_Aircraft",
	"FGVCx_Fungi",
}

// Validate reports every out-of-range value. The launcher only calls it in
// strict mode; the default launch forwards whatever is configured.
func (h Hyperparams) Validate() error {
	var errs []error

	if h.ExperimentName == "" {
		errs = append(errs, errors.New("experiment name is empty"))
	}
	if !slices.Contains(Datasets, h.Dataset) {
		errs = append(errs, fmt.Errorf("unknown dataset %q (want one of %v)", h.Dataset, Datasets))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"--num-classes-per-set", h.NumClassesPerSet},
		{"--num-samples-per-class", h.NumSamplesPerClass},
		{"--num-target-samples", h.NumTargetSamples},
		{"--batch-size", h.BatchSize},
		{"--inner-train-steps", h.InnerTrainSteps},
		{"--inner-val-steps", h.InnerValSteps},
		{"--epochs", h.Epochs},
		{"--epoch-len", h.EpochLen},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}

	if h.PoolStartEpoch < 0 {
		errs = append(errs, fmt.Errorf("--pool-start-epoch must not be negative, got %d", h.PoolStartEpoch))
	}
	if h.UsePool && h.Epochs > 0 && h.PoolStartEpoch >= h.Epochs {
		errs = append(errs, fmt.Errorf("--pool-start-epoch %d is never reached with %d epochs", h.PoolStartEpoch, h.Epochs))
	}
	if h.MetaLearningRate <= 0 {
		errs = append(errs, fmt.Errorf("--meta-learning-rate must be positive, got %g", h.MetaLearningRate))
	}
	if h.InnerLearningRate <= 0 {
		errs = append(errs, fmt.Errorf("--inner-learning-rate must be positive, got %g", h.InnerLearningRate))
	}

	return errors.Join(errs...)
}
