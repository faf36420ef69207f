package cfg

import (
	"lsfts/internal/ml"
	"lsfts/internal/selftrain"
)

// RunConfig builds the self-training config. classes is the resolved class
// count; Settings.Classes may be 0 when it is inferred from the labels.
func (s *Settings) RunConfig(runID string, classes int) selftrain.Config {
	c := selftrain.DefaultConfig(s.Scheme, classes)
	c.RunID = runID

	c.NBase = s.NBase
	c.SupEpochs = s.SupEpochs
	c.SupBatchSize = s.SupBatchSize
	c.InitialLearningRate = s.InitialLearningRate
	c.EndLearningRate = s.EndLearningRate
	c.Model = s.ModelConfig(classes)

	c.Iterations = s.Iterations
	c.SampleSize = s.SampleSize
	c.UnsupSize = s.UnsupSize
	c.Passes = s.Passes
	c.Alpha = s.Alpha
	c.UnsupEpochs = s.UnsupEpochs
	c.UnsupBatchSize = s.UnsupBatchSize
	c.Patience = s.Patience
	c.Replicas = s.Replicas
	c.PredictBatchSize = s.PredictBatchSize
	c.LargeBatchThreshold = s.LargeBatchThreshold
	c.Seed = s.Seed
	c.Progress = s.Progress
	return c
}

// ModelConfig is the construction template for the classifier.
func (s *Settings) ModelConfig(classes int) ml.ModelConfig {
	return ml.ModelConfig{
		Classes:          classes,
		MaxSeqLength:     s.MaxSeqLength,
		HashDim:          s.HashDim,
		DenseDropout:     s.DenseDropout,
		AttentionDropout: s.AttentionDropout,
		HiddenDropout:    s.HiddenDropout,
		Seed:             s.Seed,
	}
}
