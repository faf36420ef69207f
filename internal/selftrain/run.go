package selftrain

import (
	"context"

	"lsfts/internal/ml"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Run selects a base model and self-trains it. Both stages are validated
// before any training starts. An empty RunID is replaced by a random one.
func Run(ctx context.Context, cfg Config, data Data, construct ml.Constructor, deps Deps) (ml.Model, Summary, error) {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	selector, err := NewBaseSelector(cfg, data, construct, deps)
	if err != nil {
		return nil, Summary{}, err
	}
	controller, err := NewController(cfg, data, deps)
	if err != nil {
		return nil, Summary{}, err
	}

	log.Info().
		Str("run_id", cfg.RunID).
		Str("scheme", cfg.Scheme.ID).
		Int("train", data.Train.Len()).
		Int("dev", data.Dev.Len()).
		Int("test", data.Test.Len()).
		Int("unlabeled", data.Unlabeled.Len()).
		Int("classes", cfg.Classes).
		Msg("Starting run")

	model, base, err := selector.Select(ctx)
	if err != nil {
		return nil, Summary{RunID: cfg.RunID, Scheme: cfg.Scheme.ID, Base: base}, err
	}
	summary, err := controller.Run(ctx, model)
	summary.Base = base
	return model, summary, err
}
