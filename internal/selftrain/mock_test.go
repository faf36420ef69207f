package selftrain

import (
	"context"
	"sync"

	"lsfts/internal/dataset"
	"lsfts/internal/events"
	"lsfts/internal/ml"
	"lsfts/internal/storage"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	iterations       int
	resumed          int
	checkpointLoads  int
	checkpointWrites int
	baseAttempts     int
	pseudoLabels     int
	weights          []float64
	errors           int
	lastTestAcc      float64
}

func (m *MockMetrics) IterationStarted(int) {}

func (m *MockMetrics) IterationsInc(resumed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations++
	if resumed {
		m.resumed++
	}
}

func (m *MockMetrics) CheckpointLoadsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointLoads++
}

func (m *MockMetrics) CheckpointWritesInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointWrites++
}

func (m *MockMetrics) BaseAttemptObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseAttempts++
}

func (m *MockMetrics) PseudoLabelsAdd(perClass []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range perClass {
		m.pseudoLabels += n
	}
}

func (m *MockMetrics) SampleWeightsObserve(w []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = append(m.weights, w...)
}

func (m *MockMetrics) EstimateDurationObserve(float64) {}

func (m *MockMetrics) RetrainDurationObserve(float64) {}

func (m *MockMetrics) AccuracySet(testAcc, _, _, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTestAcc = testAcc
}

func (m *MockMetrics) ErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

type recordingArchive struct {
	mu         sync.Mutex
	base       []storage.BaseRunRecord
	iterations []storage.IterationRecord
}

func (a *recordingArchive) StoreBaseRun(r storage.BaseRunRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base = append(a.base, r)
	return nil
}

func (a *recordingArchive) StoreIteration(r storage.IterationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iterations = append(a.iterations, r)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// spyModel records the calls the loop makes into a real model.
type spyModel struct {
	ml.Model
	mu         sync.Mutex
	fits       []ml.FitRequest
	inferCalls int
	inferErr   error
	predictErr error
}

func (s *spyModel) InferBatch(ctx context.Context, x dataset.Features, stochastic bool) ([][]float64, error) {
	s.mu.Lock()
	s.inferCalls++
	err := s.inferErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Model.InferBatch(ctx, x, stochastic)
}

func (s *spyModel) Fit(ctx context.Context, req ml.FitRequest) (ml.History, error) {
	s.mu.Lock()
	s.fits = append(s.fits, req)
	s.mu.Unlock()
	return s.Model.Fit(ctx, req)
}

func (s *spyModel) Predict(ctx context.Context, x dataset.Features, batchSize int) ([][]float64, error) {
	if s.predictErr != nil {
		return nil, s.predictErr
	}
	return s.Model.Predict(ctx, x, batchSize)
}
