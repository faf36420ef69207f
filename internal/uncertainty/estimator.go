// Package uncertainty estimates per-example predictive uncertainty with
// Monte-Carlo dropout: the same batch is scored T times with dropout active and
// the resulting class distributions are aggregated.
package uncertainty

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lsfts/internal/dataset"
	"lsfts/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"gonum.org/v1/gonum/stat"
)

// ErrShapeMismatch is returned when a model returns logits whose shape does
// not match the batch and class count.
var ErrShapeMismatch = errors.New("logits shape mismatch")

// Statistics are the aggregated results of T stochastic passes over N examples
// with C classes.
type Statistics struct {
	Mean      [][]float64   // N x C, each row a distribution
	Variance  [][]float64   // N x C, population variance across passes
	Majority  []int         // N, mode of the per-pass argmax
	Passes    [][]int       // T x N, per-pass argmax
	PassProbs [][][]float64 // T x N x C, per-pass probabilities
}

// Len returns the number of examples covered.
func (s Statistics) Len() int {
	return len(s.Mean)
}

// Estimator runs the stochastic passes. The zero value is not usable; use
// NewEstimator.
type Estimator struct {
	// BatchSize is the number of rows sent to the model per call.
	BatchSize int
	// LargeThreshold switches batch production from cached to lazy once the
	// input holds more rows than this.
	LargeThreshold int
	// Stochastic keeps dropout active during inference.
	Stochastic bool
	// Progress renders a progress bar over the passes.
	Progress bool
}

// NewEstimator returns an estimator with stochastic inference enabled.
func NewEstimator(batchSize, largeThreshold int) *Estimator {
	return &Estimator{
		BatchSize:      batchSize,
		LargeThreshold: largeThreshold,
		Stochastic:     true,
	}
}

// Estimate performs passes stochastic forward passes over x and aggregates them.
func (e *Estimator) Estimate(ctx context.Context, model ml.Inferer, x dataset.Features, passes, classes int) (Statistics, error) {
	if passes < 1 {
		return Statistics{}, fmt.Errorf("number of passes must be at least 1, got %d", passes)
	}
	if classes < 1 {
		return Statistics{}, fmt.Errorf("class count must be at least 1, got %d", classes)
	}
	if err := x.Validate(0); err != nil {
		return Statistics{}, err
	}

	batcher, err := dataset.NewBatcher(x, e.BatchSize, e.LargeThreshold)
	if err != nil {
		return Statistics{}, err
	}
	if batcher.Chunked() {
		log.Warn().
			Int("examples", x.Len()).
			Int("threshold", e.LargeThreshold).
			Msg("Unlabeled data is too large, switching to chunked batch production")
	}

	log.Info().
		Int("passes", passes).
		Int("examples", x.Len()).
		Int("batches", batcher.NumBatches()).
		Bool("stochastic", e.Stochastic).
		Msg("Running MC dropout")

	start := time.Now()
	passProbs := make([][][]float64, passes)
	err = e.forEachPass(passes, func(t int) error {
		probs := make([][]float64, 0, x.Len())
		err := batcher.Each(func(offset int, batch dataset.Features) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			logits, err := model.InferBatch(ctx, batch, e.Stochastic)
			if err != nil {
				return fmt.Errorf("pass %d offset %d: %w", t, offset, err)
			}
			if err := ml.CheckLogits(logits, batch.Len(), classes); err != nil {
				return fmt.Errorf("%w: pass %d offset %d: %v", ErrShapeMismatch, t, offset, err)
			}
			for _, row := range logits {
				probs = append(probs, ml.Softmax(row))
			}
			return nil
		})
		if err != nil {
			return err
		}
		passProbs[t] = probs
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int("examples", x.Len()).Msg("MC dropout inference failed")
		return Statistics{}, err
	}

	stats := Aggregate(passProbs, classes)
	log.Debug().Dur("elapsed", time.Since(start)).Msg("MC dropout finished")
	return stats, nil
}

func (e *Estimator) forEachPass(passes int, fn func(t int) error) error {
	if !e.Progress {
		for t := 0; t < passes; t++ {
			if err := fn(t); err != nil {
				return err
			}
		}
		return nil
	}
	var passErr error
	err := tqdm.With(iterators.Interval(0, passes), "MC dropout passes", func(v interface{}) (brk bool) {
		if passErr = fn(v.(int)); passErr != nil {
			return true
		}
		return false
	})
	if passErr != nil {
		return passErr
	}
	return err
}

// Aggregate computes mean, variance, per-pass labels and majority vote from
// per-pass probabilities laid out as T x N x C.
func Aggregate(passProbs [][][]float64, classes int) Statistics {
	passes := len(passProbs)
	n := 0
	if passes > 0 {
		n = len(passProbs[0])
	}

	s := Statistics{
		Mean:      make([][]float64, n),
		Variance:  make([][]float64, n),
		Majority:  make([]int, n),
		Passes:    make([][]int, passes),
		PassProbs: passProbs,
	}

	for t := range passProbs {
		s.Passes[t] = ml.ArgmaxRows(passProbs[t])
	}

	column := make([]float64, passes)
	guesses := make([]int, passes)
	for i := 0; i < n; i++ {
		s.Mean[i] = make([]float64, classes)
		s.Variance[i] = make([]float64, classes)
		for c := 0; c < classes; c++ {
			for t := range passProbs {
				column[t] = passProbs[t][i][c]
			}
			mean, variance := stat.PopMeanVariance(column, nil)
			s.Mean[i][c] = mean
			s.Variance[i][c] = math.Max(0, variance)
		}
		for t := range s.Passes {
			guesses[t] = s.Passes[t][i]
		}
		s.Majority[i] = Mode(guesses, classes)
	}
	return s
}

// Mode returns the most frequent label, the lowest label on ties.
func Mode(labels []int, classes int) int {
	counts := make([]int, classes)
	for _, l := range labels {
		if l >= 0 && l < classes {
			counts[l]++
		}
	}
	best := 0
	for c := 1; c < classes; c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
