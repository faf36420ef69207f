package selftrain

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"lsfts/internal/checkpoint"
	"lsfts/internal/dataset"
	"lsfts/internal/eval"
	"lsfts/internal/events"
	"lsfts/internal/ml"
	"lsfts/internal/sampling"
	"lsfts/internal/storage"
	"lsfts/internal/uncertainty"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// Summary is the outcome of the self-training loop.
type Summary struct {
	RunID        string                    `json:"run_id"`
	Scheme       string                    `json:"scheme"`
	Base         BaseSummary               `json:"base"`
	Iterations   int                       `json:"iterations"`
	Resumed      int                       `json:"resumed"`
	PseudoLabels int                       `json:"pseudo_labels"`
	Tracker      Tracker                   `json:"tracker"`
	Final        eval.Report               `json:"final"`
	Records      []storage.IterationRecord `json:"records,omitempty"`
}

// Controller drives the self-training iterations over a model.
type Controller struct {
	cfg       Config
	data      Data
	deps      Deps
	estimator *uncertainty.Estimator
	policy    sampling.Policy
	rng       *rand.Rand
	tracker   Tracker
}

// NewController validates its inputs and returns a controller.
func NewController(cfg Config, data Data, deps Deps) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := data.validate(cfg.Classes); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	policy, err := sampling.NewPolicy(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	estimator := uncertainty.NewEstimator(cfg.PredictBatchSize, cfg.LargeBatchThreshold)
	estimator.Progress = cfg.Progress

	return &Controller{
		cfg:       cfg,
		data:      data,
		deps:      deps.withDefaults(),
		estimator: estimator,
		policy:    policy,
		rng:       rng,
		tracker:   NewTracker(),
	}, nil
}

// Tracker returns the accuracy trackers as of the last iteration.
func (c *Controller) Tracker() Tracker {
	return c.tracker
}

// Run performs the configured number of iterations on model. The iteration
// budget is fixed; a context cancellation between steps aborts the run.
func (c *Controller) Run(ctx context.Context, model ml.Model) (Summary, error) {
	summary := Summary{RunID: c.cfg.RunID, Scheme: c.cfg.Scheme.ID}
	c.deps.Events.Publish(events.Event{Type: events.TypePhase, RunID: c.cfg.RunID, Scheme: c.cfg.Scheme.ID, Phase: "self_training"})
	log.Info().
		Str("scheme", c.cfg.Scheme.ID).
		Int("iterations", c.cfg.Iterations).
		Int("unlabeled", c.data.Unlabeled.Len()).
		Msg("Starting self-training")

	err := c.forEachIteration(func(k int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := c.iterate(ctx, model, k)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}
		summary.Iterations++
		summary.PseudoLabels += rec.Selected
		if rec.Resumed {
			summary.Resumed++
		}
		summary.Records = append(summary.Records, rec)
		return nil
	})
	summary.Tracker = c.tracker
	if err != nil {
		return summary, c.abort(err, "Self-training aborted")
	}

	_, final, err := testReport(ctx, model, c.data.Test, c.cfg.Classes, c.cfg.PredictBatchSize)
	if err != nil {
		return summary, c.abort(fmt.Errorf("final test report: %w", err), "Failed to score the final model")
	}
	summary.Final = final

	log.Info().
		Float64("best_val_test_acc", c.tracker.BestValTestAcc).
		Int("best_iteration", c.tracker.BestIteration).
		Float64("max_test_acc", c.tracker.MaxTestAcc).
		Float64("final_test_acc", summary.Final.Accuracy).
		Int("resumed", summary.Resumed).
		Int("pseudo_labels", summary.PseudoLabels).
		Msg("Self-training finished")
	c.deps.Events.Publish(events.Event{Type: events.TypeDone, RunID: c.cfg.RunID, Scheme: c.cfg.Scheme.ID, Data: c.tracker})
	return summary, nil
}

// abort reports a run-ending error to metrics, events and the log.
func (c *Controller) abort(err error, msg string) error {
	c.deps.Metrics.ErrorsInc()
	c.deps.Events.Publish(events.Event{Type: events.TypeError, RunID: c.cfg.RunID, Scheme: c.cfg.Scheme.ID, Message: err.Error()})
	log.Error().Err(err).Str("scheme", c.cfg.Scheme.ID).Msg(msg)
	return err
}

func (c *Controller) forEachIteration(fn func(k int) error) error {
	if !c.cfg.Progress {
		for k := 0; k < c.cfg.Iterations; k++ {
			if err := fn(k); err != nil {
				return err
			}
		}
		return nil
	}
	var iterErr error
	err := tqdm.With(iterators.Interval(0, c.cfg.Iterations), "Self-training iterations", func(v interface{}) (brk bool) {
		iterErr = fn(v.(int))
		return iterErr != nil
	})
	if iterErr != nil {
		return iterErr
	}
	return err
}

// iterate runs one iteration: score the current model, then either restore
// the iteration's checkpoint or pseudo-label, retrain and checkpoint.
func (c *Controller) iterate(ctx context.Context, model ml.Model, k int) (storage.IterationRecord, error) {
	logger := log.With().Int("iteration", k).Str("scheme", c.cfg.Scheme.ID).Logger()
	c.deps.Metrics.IterationStarted(k)

	rec := storage.IterationRecord{RunID: c.cfg.RunID, Scheme: c.cfg.Scheme.ID, Iteration: k}
	if err := c.score(ctx, model, &rec, logger); err != nil {
		return rec, err
	}

	path := c.deps.Store.IterationPath(k, c.cfg.Scheme.ID)
	if c.deps.Store.Exists(path) {
		if err := c.deps.Store.Load(model, path); err != nil {
			return rec, err
		}
		c.deps.Metrics.CheckpointLoadsInc()
		rec.Resumed = true
		return rec, c.record(rec, nil, logger)
	}

	x, _ := dataset.Sample(c.data.Unlabeled, c.cfg.SampleSize, c.rng)
	logger.Info().
		Int("sample", x.Len()).
		Int("pool", c.data.Unlabeled.Len()).
		Msg("Evaluating uncertainty on unlabeled sample")
	rec.PoolSize = x.Len()

	req := sampling.Request{
		Tokenizer: c.deps.Tokenizer,
		X:         x,
		Size:      c.cfg.UnsupSize,
		Classes:   c.cfg.Classes,
	}
	start := time.Now()
	st, err := c.estimator.Estimate(ctx, model, x, c.cfg.Passes, c.cfg.Classes)
	if err != nil {
		return rec, err
	}
	c.deps.Metrics.EstimateDurationObserve(time.Since(start).Seconds())
	req.Mean, req.Variance, req.PassProbs = st.Mean, st.Variance, st.PassProbs

	if c.cfg.Scheme.Soft {
		req.Labels = ml.ArgmaxRows(req.Mean)
		req.Probs = req.Mean
	} else {
		logits, err := model.Predict(ctx, x, c.cfg.PredictBatchSize)
		if err != nil {
			return rec, fmt.Errorf("failed to predict pseudo-labels: %w", err)
		}
		if err := ml.CheckLogits(logits, x.Len(), c.cfg.Classes); err != nil {
			logger.Error().Err(err).Msg("Prediction shape mismatch")
			return rec, fmt.Errorf("%w: %v", uncertainty.ErrShapeMismatch, err)
		}
		req.Probs = ml.SoftmaxRows(logits)
		req.Labels = ml.ArgmaxRows(req.Probs)
	}

	sel, err := c.policy.Select(req)
	if err != nil {
		return rec, err
	}
	weights := SampleWeights(sel.Confidence, c.cfg.Alpha, c.cfg.Scheme.Confidence)
	rec.Selected = sel.Len()
	rec.PerClass = sel.PerClass
	rec.Borrowed = sel.Borrowed
	rec.MeanConfidence = mean(sel.Confidence)
	rec.MeanWeight = mean(weights)
	logger.Info().
		Int("selected", sel.Len()).
		Ints("per_class", sel.PerClass).
		Float64("mean_confidence", rec.MeanConfidence).
		Float64("mean_weight", rec.MeanWeight).
		Bool("confidence_weighting", c.cfg.Scheme.Confidence).
		Msg("Pseudo-labels selected")

	if sel.Len() == 0 {
		logger.Warn().Msg("No pseudo-labels selected, skipping retraining")
	} else {
		start := time.Now()
		hist, err := model.Fit(ctx, ml.FitRequest{
			X:             sel.X,
			Y:             sel.Labels,
			SampleWeights: weights,
			Epochs:        c.cfg.UnsupEpochs,
			BatchSize:     c.cfg.UnsupBatchSize * c.cfg.Replicas,
			Shuffle:       true,
			Validation:    &c.data.Dev,
			EarlyStopping: &ml.EarlyStopping{Monitor: ml.MonitorValLoss, Patience: c.cfg.Patience, RestoreBest: true},
		})
		if err != nil {
			logger.Error().Err(err).Msg("Retraining failed")
			return rec, fmt.Errorf("retraining: %w", err)
		}
		c.deps.Metrics.RetrainDurationObserve(time.Since(start).Seconds())
		logger.Debug().Int("epochs", len(hist.Loss)).Int("best_epoch", hist.BestEpoch).Bool("stopped_early", hist.Stopped).Msg("Retraining finished")
	}

	wrote, err := c.deps.Store.SaveOnce(model, path, checkpoint.Entry{
		Kind:      checkpoint.KindIteration,
		Iteration: k,
		Scheme:    c.cfg.Scheme.ID,
		RunID:     c.cfg.RunID,
		Metrics: checkpoint.Metrics{
			ValAccuracy:  rec.ValAccuracy,
			TestAccuracy: rec.TestAccuracy,
			Examples:     sel.Len(),
		},
	})
	if err != nil {
		return rec, err
	}
	if wrote {
		c.deps.Metrics.CheckpointWritesInc()
	}

	c.deps.Metrics.PseudoLabelsAdd(sel.PerClass)
	c.deps.Metrics.SampleWeightsObserve(weights)
	return rec, c.record(rec, weights, logger)
}

// score evaluates the model on test and dev and updates the trackers.
func (c *Controller) score(ctx context.Context, model ml.Model, rec *storage.IterationRecord, logger zerolog.Logger) error {
	testEval, err := model.Evaluate(ctx, c.data.Test.X, c.data.Test.Y)
	if err != nil {
		return fmt.Errorf("test evaluation: %w", err)
	}
	_, report, err := testReport(ctx, model, c.data.Test, c.cfg.Classes, c.cfg.PredictBatchSize)
	if err != nil {
		return fmt.Errorf("test report: %w", err)
	}
	devEval, err := model.Evaluate(ctx, c.data.Dev.X, c.data.Dev.Y)
	if err != nil {
		return fmt.Errorf("dev evaluation: %w", err)
	}

	rec.Test = report
	rec.TestAccuracy = testEval.Accuracy
	rec.ValAccuracy = devEval.Accuracy
	c.tracker.Update(rec.Iteration, rec.ValAccuracy, rec.TestAccuracy)
	rec.BestValTestAcc = c.tracker.BestValTestAcc
	rec.MaxTestAcc = c.tracker.MaxTestAcc

	c.deps.Metrics.AccuracySet(rec.TestAccuracy, rec.ValAccuracy, rec.BestValTestAcc, rec.MaxTestAcc)
	logger.Info().
		Float64("test_loss", testEval.Loss).
		Float64("test_acc", rec.TestAccuracy).
		Float64("val_acc", rec.ValAccuracy).
		Float64("macro_precision", report.MacroPrecision).
		Float64("macro_recall", report.MacroRecall).
		Float64("macro_f1", report.MacroF1).
		Float64("precision", report.Precision).
		Float64("recall", report.Recall).
		Float64("f1", report.F1).
		Interface("confusion_matrix", report.Confusion).
		Msg("Iteration start scores")
	return nil
}

func (c *Controller) record(rec storage.IterationRecord, weights []float64, logger zerolog.Logger) error {
	c.deps.Metrics.IterationsInc(rec.Resumed)
	if err := c.deps.Archive.StoreIteration(rec); err != nil {
		return fmt.Errorf("failed to archive iteration: %w", err)
	}
	c.deps.Events.Publish(events.Event{
		Type:      events.TypeIteration,
		RunID:     rec.RunID,
		Scheme:    rec.Scheme,
		Iteration: rec.Iteration,
		Data:      rec,
	})
	logger.Info().
		Bool("resumed", rec.Resumed).
		Int("weights", len(weights)).
		Float64("best_val_test_acc", rec.BestValTestAcc).
		Float64("max_test_acc", rec.MaxTestAcc).
		Msg("Iteration finished")
	return nil
}

func mean(v []float64) float64 {
	m, err := stats.Mean(v)
	if err != nil {
		return 0
	}
	return m
}
