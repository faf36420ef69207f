// Package ml defines the model capability the self-training loop drives and
// ships a small reference implementation of it.
//
// The loop never looks inside a model: it asks for logits (optionally with
// dropout active), trains on weighted examples, evaluates, and moves weights
// to and from disk. Models can run in-process or behind the HTTP adapter pair
// in server.go and remote.go.
package ml

import (
	"context"
	"errors"

	"lsfts/internal/dataset"
)

// ErrIncompatibleWeights is returned when a weights file does not match the
// model it is loaded into.
var ErrIncompatibleWeights = errors.New("incompatible weights")

// Inferer produces raw logits for a batch. With stochastic set, training-mode
// behavior such as dropout stays active so repeated calls give different
// outputs.
type Inferer interface {
	InferBatch(ctx context.Context, x dataset.Features, stochastic bool) ([][]float64, error)
}

// Model is the full capability used by the base selector and the controller.
type Model interface {
	Inferer

	// Fit trains on the request's examples and returns the per-epoch history.
	Fit(ctx context.Context, req FitRequest) (History, error)

	// Evaluate returns the unweighted cross-entropy loss and accuracy.
	Evaluate(ctx context.Context, x dataset.Features, y []int) (Evaluation, error)

	// Predict returns deterministic logits computed in batches of batchSize.
	Predict(ctx context.Context, x dataset.Features, batchSize int) ([][]float64, error)

	SaveWeights(path string) error
	LoadWeights(path string) error
}

// SharedWeights is implemented by models whose instances all drive the same
// underlying weights, such as clients of one model server. Constructing a new
// instance of such a model discards the weights of the previous one.
type SharedWeights interface {
	SharesWeights() bool
}

// Constructor builds a freshly initialized model.
type Constructor func(cfg ModelConfig) (Model, error)

// ModelConfig carries construction parameters. Fields a given model does not
// use are ignored.
type ModelConfig struct {
	Classes          int      `json:"classes"`
	MaxSeqLength     int      `json:"max_seq_length"`
	HashDim          int      `json:"hash_dim"`
	DenseDropout     float64  `json:"dense_dropout"`
	AttentionDropout float64  `json:"attention_probs_dropout_prob"`
	HiddenDropout    float64  `json:"hidden_dropout_prob"`
	Seed             uint64   `json:"seed"`
	MixedPrecision   bool     `json:"mixed_precision"`
	Schedule         Schedule `json:"-"`
}

// Monitor names accepted by EarlyStopping.
const (
	MonitorValLoss     = "val_loss"
	MonitorValAccuracy = "val_acc"
)

// EarlyStopping stops training once the monitored validation quantity has not
// improved for Patience epochs.
type EarlyStopping struct {
	Monitor     string `json:"monitor"`
	Patience    int    `json:"patience"`
	RestoreBest bool   `json:"restore_best_weights"`
}

// FitRequest describes one call to Fit.
type FitRequest struct {
	X             dataset.Features `json:"x"`
	Y             []int            `json:"y"`
	SampleWeights []float64        `json:"sample_weights,omitempty"`
	Epochs        int              `json:"epochs"`
	BatchSize     int              `json:"batch_size"`
	Shuffle       bool             `json:"shuffle"`
	Validation    *dataset.Labeled `json:"validation,omitempty"`
	EarlyStopping *EarlyStopping   `json:"early_stopping,omitempty"`
}

// History records per-epoch training progress.
type History struct {
	Loss        []float64 `json:"loss"`
	ValLoss     []float64 `json:"val_loss,omitempty"`
	ValAccuracy []float64 `json:"val_acc,omitempty"`
	BestEpoch   int       `json:"best_epoch"`
	Stopped     bool      `json:"stopped_early"`
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}
