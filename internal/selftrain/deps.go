package selftrain

import (
	"lsfts/internal/checkpoint"
	"lsfts/internal/events"
	"lsfts/internal/sampling"
	"lsfts/internal/storage"
)

// MetricsInterface is what the training loop reports to. It is satisfied by
// metrics.MetricsWrapper.
type MetricsInterface interface {
	IterationStarted(k int)
	IterationsInc(resumed bool)
	CheckpointLoadsInc()
	CheckpointWritesInc()
	BaseAttemptObserve(valLoss float64)
	PseudoLabelsAdd(perClass []int)
	SampleWeightsObserve(weights []float64)
	EstimateDurationObserve(seconds float64)
	RetrainDurationObserve(seconds float64)
	AccuracySet(testAcc, valAcc, bestValTestAcc, maxTestAcc float64)
	ErrorsInc()
}

// Archive keeps results records. It is satisfied by *storage.Store.
type Archive interface {
	StoreBaseRun(r storage.BaseRunRecord) error
	StoreIteration(r storage.IterationRecord) error
}

// EventPublisher receives progress events. It is satisfied by *events.Hub.
type EventPublisher interface {
	Publish(e events.Event)
}

// Deps are the collaborators of a run. Only Store is required.
type Deps struct {
	Store     *checkpoint.Store
	Archive   Archive
	Metrics   MetricsInterface
	Events    EventPublisher
	Tokenizer sampling.Decoder
}

func (d Deps) withDefaults() Deps {
	if d.Archive == nil {
		d.Archive = noopArchive{}
	}
	if d.Metrics == nil {
		d.Metrics = NoopMetrics{}
	}
	if d.Events == nil {
		d.Events = noopPublisher{}
	}
	return d
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IterationStarted(int) {}
func (NoopMetrics) IterationsInc(bool) {}
func (NoopMetrics) CheckpointLoadsInc() {}
func (NoopMetrics) CheckpointWritesInc() {}
func (NoopMetrics) BaseAttemptObserve(float64) {}
func (NoopMetrics) PseudoLabelsAdd([]int) {}
func (NoopMetrics) SampleWeightsObserve([]float64) {}
func (NoopMetrics) EstimateDurationObserve(float64) {}
func (NoopMetrics) RetrainDurationObserve(float64) {}
func (NoopMetrics) AccuracySet(float64, float64, float64, float64) {}
func (NoopMetrics) ErrorsInc() {}

type noopArchive struct{}

func (noopArchive) StoreBaseRun(storage.BaseRunRecord) error { return nil }
func (noopArchive) StoreIteration(storage.IterationRecord) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}
