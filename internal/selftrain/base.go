package selftrain

import (
	"context"
	"fmt"
	"math"
	"os"

	"lsfts/internal/checkpoint"
	"lsfts/internal/dataset"
	"lsfts/internal/eval"
	"lsfts/internal/events"
	"lsfts/internal/ml"
	"lsfts/internal/storage"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"
)

// BaseSummary describes how the base model was chosen.
type BaseSummary struct {
	Attempts      int           `json:"attempts"`
	BestAttempt   int           `json:"best_attempt"`
	BestValLoss   float64       `json:"best_val_loss"`
	Resumed       bool          `json:"resumed"`
	Reports       []eval.Report `json:"reports,omitempty"`
	MeanAccuracy  float64       `json:"mean_accuracy"`
	MeanPrecision float64       `json:"mean_precision"`
	MeanRecall    float64       `json:"mean_recall"`
	MeanF1        float64       `json:"mean_f1"`
}

// BaseSelector trains several candidates on the labeled data and keeps the
// one with the lowest dev loss. If a base checkpoint exists it is loaded into
// the first candidate instead and nothing is trained.
type BaseSelector struct {
	cfg       Config
	data      Data
	construct ml.Constructor
	deps      Deps
}

// NewBaseSelector validates its inputs and returns a selector.
func NewBaseSelector(cfg Config, data Data, construct ml.Constructor, deps Deps) (*BaseSelector, error) {
	if err := cfg.validateBase(); err != nil {
		return nil, err
	}
	if cfg.Classes < 1 {
		return nil, fmt.Errorf("classes must be positive, got %d", cfg.Classes)
	}
	if err := data.validate(cfg.Classes); err != nil {
		return nil, err
	}
	if construct == nil {
		return nil, fmt.Errorf("model constructor is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	return &BaseSelector{cfg: cfg, data: data, construct: construct, deps: deps.withDefaults()}, nil
}

// modelConfig is the construction config of attempt i.
func (s *BaseSelector) modelConfig(attempt int) ml.ModelConfig {
	mc := s.cfg.Model
	mc.Classes = s.cfg.Classes
	mc.Seed = s.cfg.Seed + uint64(attempt)
	mc.MixedPrecision = true
	mc.Schedule = ml.PolynomialDecay{
		Initial:    s.cfg.InitialLearningRate,
		End:        s.cfg.EndLearningRate,
		DecaySteps: s.data.Train.Len() * s.cfg.SupEpochs / s.cfg.SupBatchSize,
		Power:      1,
	}
	return mc
}

// Select returns the chosen base model.
func (s *BaseSelector) Select(ctx context.Context) (ml.Model, BaseSummary, error) {
	basePath := s.deps.Store.BasePath()
	summary := BaseSummary{BestAttempt: -1, BestValLoss: math.Inf(1)}
	var best ml.Model

	s.deps.Events.Publish(events.Event{Type: events.TypePhase, RunID: s.cfg.RunID, Phase: "base_selection"})

	for attempt := 0; attempt < s.cfg.NBase; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}
		logger := log.With().Int("attempt", attempt).Logger()

		model, err := s.construct(s.modelConfig(attempt))
		if err != nil {
			return nil, summary, fmt.Errorf("failed to construct base model %d: %w", attempt, err)
		}

		if s.deps.Store.Exists(basePath) {
			if err := s.deps.Store.Load(model, basePath); err != nil {
				return nil, summary, err
			}
			s.deps.Metrics.CheckpointLoadsInc()
			logger.Info().Str("path", basePath).Msg("Base model loaded from checkpoint, skipping base selection")
			best = model
			summary.Resumed = true
			summary.BestAttempt = attempt
			ev, err := model.Evaluate(ctx, s.data.Dev.X, s.data.Dev.Y)
			if err != nil {
				return nil, summary, fmt.Errorf("failed to evaluate loaded base model: %w", err)
			}
			summary.BestValLoss = ev.Loss
			break
		}

		logger.Info().Int("train", s.data.Train.Len()).Int("dev", s.data.Dev.Len()).Msg("Training base model candidate")
		_, err = model.Fit(ctx, ml.FitRequest{
			X:          s.data.Train.X,
			Y:          s.data.Train.Y,
			Epochs:     s.cfg.SupEpochs,
			BatchSize:  s.cfg.SupBatchSize * s.cfg.Replicas,
			Shuffle:    true,
			Validation: &s.data.Dev,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Base model training failed")
			return nil, summary, fmt.Errorf("base model %d: %w", attempt, err)
		}

		ev, err := model.Evaluate(ctx, s.data.Dev.X, s.data.Dev.Y)
		if err != nil {
			return nil, summary, fmt.Errorf("base model %d dev evaluation: %w", attempt, err)
		}
		if ev.Loss < summary.BestValLoss {
			if err := s.stage(model); err != nil {
				return nil, summary, err
			}
			best = model
			summary.BestValLoss = ev.Loss
			summary.BestAttempt = attempt
		}
		logger.Info().Float64("val_loss", ev.Loss).Float64("best_val_loss", summary.BestValLoss).Msg("Base model candidate evaluated")

		preds, report, err := testReport(ctx, model, s.data.Test, s.cfg.Classes, s.cfg.PredictBatchSize)
		if err != nil {
			return nil, summary, fmt.Errorf("base model %d test evaluation: %w", attempt, err)
		}
		summary.Reports = append(summary.Reports, report)
		summary.Attempts++
		s.deps.Metrics.BaseAttemptObserve(ev.Loss)

		logger.Info().
			Float64("accuracy", report.Accuracy).
			Float64("macro_f1", report.MacroF1).
			Float64("precision", report.Precision).
			Float64("recall", report.Recall).
			Float64("f1", report.F1).
			Msg("Base model test scores")

		rec := storage.BaseRunRecord{
			RunID:       s.cfg.RunID,
			Attempt:     attempt,
			Seed:        s.cfg.Seed + uint64(attempt),
			ValLoss:     ev.Loss,
			Report:      report,
			Predictions: preds,
			Labels:      s.data.Test.Y,
		}
		if err := s.deps.Archive.StoreBaseRun(rec); err != nil {
			return nil, summary, fmt.Errorf("failed to archive base run %d: %w", attempt, err)
		}
		s.deps.Events.Publish(events.Event{
			Type:      events.TypeBaseAttempt,
			RunID:     s.cfg.RunID,
			Iteration: attempt,
			Data:      rec,
		})
	}

	if best == nil {
		return nil, summary, fmt.Errorf("no base model candidate was produced")
	}
	if err := s.unstage(best, summary); err != nil {
		return nil, summary, err
	}

	wrote, err := s.deps.Store.SaveOnce(best, basePath, checkpoint.Entry{
		Kind:    checkpoint.KindBase,
		RunID:   s.cfg.RunID,
		Metrics: checkpoint.Metrics{ValLoss: summary.BestValLoss, Examples: s.data.Train.Len()},
	})
	if err != nil {
		return nil, summary, err
	}
	if wrote {
		s.deps.Metrics.CheckpointWritesInc()
	}

	summary.summarize()
	log.Info().
		Int("attempts", summary.Attempts).
		Int("best_attempt", summary.BestAttempt).
		Float64("best_val_loss", summary.BestValLoss).
		Bool("resumed", summary.Resumed).
		Float64("mean_accuracy", summary.MeanAccuracy).
		Float64("mean_precision", summary.MeanPrecision).
		Float64("mean_recall", summary.MeanRecall).
		Float64("mean_f1", summary.MeanF1).
		Msg("Base model selected")
	return best, summary, nil
}

func sharesWeights(m ml.Model) bool {
	sw, ok := m.(ml.SharedWeights)
	return ok && sw.SharesWeights()
}

// stage keeps a copy of a new best candidate whose weights would be lost when
// the next candidate is constructed.
func (s *BaseSelector) stage(m ml.Model) error {
	if !sharesWeights(m) {
		return nil
	}
	if err := m.SaveWeights(s.deps.Store.StagingPath("base")); err != nil {
		return fmt.Errorf("failed to stage base candidate: %w", err)
	}
	return nil
}

// unstage restores the staged winner if another candidate was trained after it.
func (s *BaseSelector) unstage(best ml.Model, summary BaseSummary) error {
	if !sharesWeights(best) || summary.Resumed {
		return nil
	}
	path := s.deps.Store.StagingPath("base")
	defer os.Remove(path)
	if summary.BestAttempt == s.cfg.NBase-1 {
		return nil
	}
	log.Info().Int("best_attempt", summary.BestAttempt).Msg("Restoring staged base model")
	if err := s.deps.Store.Load(best, path); err != nil {
		return err
	}
	return nil
}

// summarize averages the per-attempt test scores.
func (b *BaseSummary) summarize() {
	if len(b.Reports) == 0 {
		return
	}
	var acc, pre, rec, f1 stats.Float64Data
	for _, r := range b.Reports {
		acc = append(acc, r.Accuracy)
		pre = append(pre, r.Precision)
		rec = append(rec, r.Recall)
		f1 = append(f1, r.F1)
	}
	b.MeanAccuracy, _ = stats.Mean(acc)
	b.MeanPrecision, _ = stats.Mean(pre)
	b.MeanRecall, _ = stats.Mean(rec)
	b.MeanF1, _ = stats.Mean(f1)
}

// testReport predicts the test partition deterministically and scores it.
func testReport(ctx context.Context, model ml.Model, test dataset.Labeled, classes, batchSize int) ([]int, eval.Report, error) {
	logits, err := model.Predict(ctx, test.X, batchSize)
	if err != nil {
		return nil, eval.Report{}, err
	}
	if err := ml.CheckLogits(logits, test.Len(), classes); err != nil {
		return nil, eval.Report{}, err
	}
	preds := ml.ArgmaxRows(logits)
	report, err := eval.Compute(test.Y, preds, classes)
	return preds, report, err
}
