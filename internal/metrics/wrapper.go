package metrics

import "strconv"

// MetricsWrapper adapts Metrics to the narrow interface the training loop
// depends on, so that package does not import Prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) IterationStarted(k int) {
	w.m.CurrentIteration.Set(float64(k))
}

func (w *MetricsWrapper) IterationsInc(resumed bool) {
	w.m.IterationsTotal.Inc()
	if resumed {
		w.m.ResumedTotal.Inc()
	}
}

func (w *MetricsWrapper) CheckpointLoadsInc() {
	w.m.CheckpointLoads.Inc()
}

func (w *MetricsWrapper) CheckpointWritesInc() {
	w.m.CheckpointWrites.Inc()
}

func (w *MetricsWrapper) BaseAttemptObserve(valLoss float64) {
	w.m.BaseAttempts.Inc()
	w.m.BaseValLoss.Observe(valLoss)
}

func (w *MetricsWrapper) PseudoLabelsAdd(perClass []int) {
	for c, n := range perClass {
		if n > 0 {
			w.m.PseudoLabels.WithLabelValues(strconv.Itoa(c)).Add(float64(n))
		}
	}
}

func (w *MetricsWrapper) SampleWeightsObserve(weights []float64) {
	for _, v := range weights {
		w.m.SampleWeights.Observe(v)
	}
}

func (w *MetricsWrapper) EstimateDurationObserve(seconds float64) {
	w.m.EstimateDuration.Observe(seconds)
}

func (w *MetricsWrapper) RetrainDurationObserve(seconds float64) {
	w.m.RetrainDuration.Observe(seconds)
}

func (w *MetricsWrapper) AccuracySet(testAcc, valAcc, bestValTestAcc, maxTestAcc float64) {
	w.m.TestAccuracy.Set(testAcc)
	w.m.ValAccuracy.Set(valAcc)
	w.m.BestValTestAccuracy.Set(bestValTestAcc)
	w.m.MaxTestAccuracy.Set(maxTestAcc)
}

func (w *MetricsWrapper) ErrorsInc() {
	w.m.ErrorsTotal.Inc()
}
