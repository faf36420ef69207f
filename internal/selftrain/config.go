// Package selftrain runs uncertainty-aware self-training: it picks a base
// model trained on the labeled data, then repeatedly pseudo-labels a sample of
// the unlabeled pool and retrains on it.
//
// Every step that produces weights is checkpointed once, so an interrupted run
// picks up where it stopped.
package selftrain

import (
	"fmt"

	"lsfts/internal/common"
	"lsfts/internal/dataset"
	"lsfts/internal/ml"
	"lsfts/internal/sampling"
)

// Config holds the knobs of a run.
type Config struct {
	RunID   string
	Classes int
	Scheme  sampling.Scheme

	// Base model selection
	NBase               int
	SupEpochs           int
	SupBatchSize        int
	InitialLearningRate float64
	EndLearningRate     float64
	Model               ml.ModelConfig // template; seed, precision and schedule are set per attempt

	// Self-training
	Iterations          int
	SampleSize          int // unlabeled examples scored per iteration
	UnsupSize           int // pseudo-labels selected per iteration
	Passes              int
	Alpha               float64
	UnsupEpochs         int
	UnsupBatchSize      int
	Patience            int
	Replicas            int
	PredictBatchSize    int
	LargeBatchThreshold int
	Seed                uint64
	Progress            bool
}

// DefaultConfig returns the defaults for a scheme and class count.
func DefaultConfig(scheme sampling.Scheme, classes int) Config {
	return Config{
		Classes:             classes,
		Scheme:              scheme,
		NBase:               common.DefaultNBase,
		SupEpochs:           common.DefaultSupEpochs,
		SupBatchSize:        common.DefaultSupBatchSize,
		InitialLearningRate: common.BaseInitialLearningRate,
		EndLearningRate:     common.BaseEndLearningRate,
		Model: ml.ModelConfig{
			Classes:          classes,
			MaxSeqLength:     common.DefaultMaxSeqLength,
			HashDim:          common.DefaultHashDim,
			DenseDropout:     common.DefaultDenseDropout,
			AttentionDropout: common.DefaultAttentionDropout,
			HiddenDropout:    common.DefaultHiddenDropout,
		},
		Iterations:          common.DefaultIterations,
		SampleSize:          common.DefaultSampleSize,
		UnsupSize:           common.DefaultUnsupSize,
		Passes:              common.DefaultPasses,
		Alpha:               common.DefaultAlpha,
		UnsupEpochs:         common.DefaultUnsupEpochs,
		UnsupBatchSize:      common.DefaultUnsupBatchSize,
		Patience:            common.DefaultPatience,
		Replicas:            common.DefaultReplicas,
		PredictBatchSize:    common.DefaultPredictBatchSize,
		LargeBatchThreshold: common.DefaultLargeBatchThreshold,
		Seed:                common.DefaultSeed,
	}
}

func (c Config) validate() error {
	switch {
	case c.Classes < 1:
		return fmt.Errorf("classes must be positive, got %d", c.Classes)
	case c.Scheme.Kind == 0:
		return fmt.Errorf("%w: scheme not parsed", sampling.ErrUnsupportedScheme)
	case c.Iterations < 0:
		return fmt.Errorf("iterations must not be negative, got %d", c.Iterations)
	case c.SampleSize < 1:
		return fmt.Errorf("sample size must be positive, got %d", c.SampleSize)
	case c.UnsupSize < 0:
		return fmt.Errorf("unsup size must not be negative, got %d", c.UnsupSize)
	case c.Passes < 1:
		return fmt.Errorf("MC dropout passes must be at least 1, got %d", c.Passes)
	case c.Alpha < 0:
		return fmt.Errorf("alpha must not be negative, got %f", c.Alpha)
	case c.UnsupEpochs < 1 || c.UnsupBatchSize < 1:
		return fmt.Errorf("unsup epochs and batch size must be positive, got %d and %d", c.UnsupEpochs, c.UnsupBatchSize)
	case c.Replicas < 1:
		return fmt.Errorf("replicas must be positive, got %d", c.Replicas)
	case c.PredictBatchSize < 1:
		return fmt.Errorf("predict batch size must be positive, got %d", c.PredictBatchSize)
	}
	return nil
}

func (c Config) validateBase() error {
	switch {
	case c.NBase < 1:
		return fmt.Errorf("number of base models must be positive, got %d", c.NBase)
	case c.SupEpochs < 1 || c.SupBatchSize < 1:
		return fmt.Errorf("sup epochs and batch size must be positive, got %d and %d", c.SupEpochs, c.SupBatchSize)
	case c.InitialLearningRate <= 0 || c.EndLearningRate < 0:
		return fmt.Errorf("invalid learning rate schedule %g -> %g", c.InitialLearningRate, c.EndLearningRate)
	case c.Replicas < 1:
		return fmt.Errorf("replicas must be positive, got %d", c.Replicas)
	case c.PredictBatchSize < 1:
		return fmt.Errorf("predict batch size must be positive, got %d", c.PredictBatchSize)
	}
	return nil
}

// Data are the partitions a run works on.
type Data struct {
	Train     dataset.Labeled
	Dev       dataset.Labeled
	Test      dataset.Labeled
	Unlabeled dataset.Features
}

func (d Data) validate(classes int) error {
	parts := []struct {
		name string
		l    dataset.Labeled
	}{{"train", d.Train}, {"dev", d.Dev}, {"test", d.Test}}
	for _, p := range parts {
		if err := p.l.Validate(0, classes); err != nil {
			return fmt.Errorf("%s partition: %w", p.name, err)
		}
	}
	if d.Dev.Len() == 0 || d.Test.Len() == 0 {
		return fmt.Errorf("dev and test partitions must not be empty")
	}
	if err := d.Unlabeled.Validate(0); err != nil {
		return fmt.Errorf("unlabeled pool: %w", err)
	}
	return nil
}
