package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"

	"lsfts/internal/dataset"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultHashDim      = 256
	defaultLearningRate = 0.5
	logEpsilon          = 1e-12
)

// SoftmaxClassifier is a hashed bag-of-tokens softmax regression. Token ids
// (with their segment ids) are hashed into HashDim buckets, the bucket counts
// are L2-normalized and fed to a single dense layer. Inverted dropout with
// rate DenseDropout is applied to the input vector during training and
// stochastic inference, which is what Monte-Carlo dropout needs.
//
// With MixedPrecision set, the forward pass accumulates in float32 while the
// master weights stay float64.
type SoftmaxClassifier struct {
	mu       sync.Mutex
	cfg      ModelConfig
	schedule Schedule
	rng      *rand.Rand
	weights  [][]float64 // classes x hashDim
	bias     []float64
	step     int
}

// NewSoftmaxClassifier creates a randomly initialized classifier.
func NewSoftmaxClassifier(cfg ModelConfig) (*SoftmaxClassifier, error) {
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("classifier needs at least 2 classes, got %d", cfg.Classes)
	}
	if cfg.DenseDropout < 0 || cfg.DenseDropout >= 1 {
		return nil, fmt.Errorf("dense dropout must be in [0,1), got %f", cfg.DenseDropout)
	}
	if cfg.HashDim <= 0 {
		cfg.HashDim = defaultHashDim
	}
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = ConstantRate(defaultLearningRate)
	}

	m := &SoftmaxClassifier{
		cfg:      cfg,
		schedule: schedule,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		weights:  make([][]float64, cfg.Classes),
		bias:     make([]float64, cfg.Classes),
	}
	for c := range m.weights {
		m.weights[c] = make([]float64, cfg.HashDim)
		for d := range m.weights[c] {
			m.weights[c][d] = m.rng.NormFloat64() * 0.01
		}
	}
	return m, nil
}

// SoftmaxConstructor adapts NewSoftmaxClassifier to Constructor.
func SoftmaxConstructor(cfg ModelConfig) (Model, error) {
	m, err := NewSoftmaxClassifier(cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SoftmaxClassifier) featurize(ids, types, mask []int32) []float64 {
	v := make([]float64, m.cfg.HashDim)
	for j, id := range ids {
		if id == dataset.PadToken || (j < len(mask) && mask[j] == 0) {
			continue
		}
		var tt int32
		if j < len(types) {
			tt = types[j]
		}
		h := (uint64(uint32(id))*2654435761 + uint64(uint32(tt))*40503) % uint64(len(v))
		v[h]++
	}
	if norm := floats.Norm(v, 2); norm > 0 {
		floats.Scale(1/norm, v)
	}
	return v
}

func (m *SoftmaxClassifier) featurizeAll(x dataset.Features) [][]float64 {
	out := make([][]float64, x.Len())
	for i := range out {
		out[i] = m.featurize(x.InputIDs[i], x.TokenTypeIDs[i], x.AttentionMask[i])
	}
	return out
}

func (m *SoftmaxClassifier) dropout(v []float64) []float64 {
	keep := 1 - m.cfg.DenseDropout
	out := make([]float64, len(v))
	for i, x := range v {
		if m.rng.Float64() < keep {
			out[i] = x / keep
		}
	}
	return out
}

func (m *SoftmaxClassifier) logits(in []float64) []float64 {
	out := make([]float64, m.cfg.Classes)
	for c := range out {
		if m.cfg.MixedPrecision {
			out[c] = float64(dot32(m.weights[c], in) + float32(m.bias[c]))
		} else {
			out[c] = floats.Dot(m.weights[c], in) + m.bias[c]
		}
	}
	return out
}

func (m *SoftmaxClassifier) forward(v []float64, stochastic bool) []float64 {
	if stochastic && m.cfg.DenseDropout > 0 {
		v = m.dropout(v)
	}
	return m.logits(v)
}

func dot32(a, b []float64) float32 {
	var s float32
	for i := range a {
		s += float32(a[i]) * float32(b[i])
	}
	return s
}

func (m *SoftmaxClassifier) checkLabels(x dataset.Features, y []int) error {
	if err := x.Validate(0); err != nil {
		return err
	}
	if len(y) != x.Len() {
		return fmt.Errorf("%w: %d labels for %d examples", dataset.ErrShapeMismatch, len(y), x.Len())
	}
	for i, label := range y {
		if label < 0 || label >= m.cfg.Classes {
			return fmt.Errorf("%w: label %d at row %d outside [0,%d)", dataset.ErrShapeMismatch, label, i, m.cfg.Classes)
		}
	}
	return nil
}

// InferBatch implements Inferer.
func (m *SoftmaxClassifier) InferBatch(ctx context.Context, x dataset.Features, stochastic bool) ([][]float64, error) {
	if err := x.Validate(0); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]float64, x.Len())
	for i := range out {
		out[i] = m.forward(m.featurize(x.InputIDs[i], x.TokenTypeIDs[i], x.AttentionMask[i]), stochastic)
	}
	return out, nil
}

// Predict implements Model.
func (m *SoftmaxClassifier) Predict(ctx context.Context, x dataset.Features, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	out := make([][]float64, 0, x.Len())
	for lo := 0; lo < x.Len(); lo += batchSize {
		logits, err := m.InferBatch(ctx, x.Slice(lo, min(lo+batchSize, x.Len())), false)
		if err != nil {
			return nil, err
		}
		out = append(out, logits...)
	}
	return out, nil
}

// Evaluate implements Model.
func (m *SoftmaxClassifier) Evaluate(ctx context.Context, x dataset.Features, y []int) (Evaluation, error) {
	if err := m.checkLabels(x, y); err != nil {
		return Evaluation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluate(m.featurizeAll(x), y), nil
}

func (m *SoftmaxClassifier) evaluate(feats [][]float64, y []int) Evaluation {
	if len(feats) == 0 {
		return Evaluation{}
	}
	var loss float64
	correct := 0
	for i, v := range feats {
		logits := m.logits(v)
		p := Softmax(logits)
		loss -= math.Log(p[y[i]] + logEpsilon)
		if Argmax(logits) == y[i] {
			correct++
		}
	}
	n := float64(len(feats))
	return Evaluation{Loss: loss / n, Accuracy: float64(correct) / n}
}

type earlyStopper struct {
	cfg       EarlyStopping
	best      float64
	bestEpoch int
	wait      int
	weights   [][]float64
	bias      []float64
}

func newEarlyStopper(cfg EarlyStopping) *earlyStopper {
	s := &earlyStopper{cfg: cfg, bestEpoch: -1, best: math.Inf(1)}
	if cfg.Monitor == MonitorValAccuracy {
		s.best = math.Inf(-1)
	}
	return s
}

func (s *earlyStopper) value(ev Evaluation) float64 {
	if s.cfg.Monitor == MonitorValAccuracy {
		return ev.Accuracy
	}
	return ev.Loss
}

func (s *earlyStopper) improved(v float64) bool {
	if s.cfg.Monitor == MonitorValAccuracy {
		return v > s.best
	}
	return v < s.best
}

// Fit implements Model. Minibatch SGD on the sample-weighted cross entropy;
// each batch's summed loss is divided by the batch size.
func (m *SoftmaxClassifier) Fit(ctx context.Context, req FitRequest) (History, error) {
	if err := m.checkLabels(req.X, req.Y); err != nil {
		return History{}, err
	}
	n := req.X.Len()
	if req.SampleWeights != nil && len(req.SampleWeights) != n {
		return History{}, fmt.Errorf("%w: %d sample weights for %d examples", dataset.ErrShapeMismatch, len(req.SampleWeights), n)
	}
	if req.Epochs <= 0 || req.BatchSize <= 0 {
		return History{}, fmt.Errorf("epochs and batch size must be positive, got %d and %d", req.Epochs, req.BatchSize)
	}
	if req.Validation != nil {
		if err := m.checkLabels(req.Validation.X, req.Validation.Y); err != nil {
			return History{}, fmt.Errorf("validation data: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	feats := m.featurizeAll(req.X)
	var valFeats [][]float64
	var stopper *earlyStopper
	if req.Validation != nil && req.Validation.Len() > 0 {
		valFeats = m.featurizeAll(req.Validation.X)
		if req.EarlyStopping != nil {
			stopper = newEarlyStopper(*req.EarlyStopping)
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	hist := History{BestEpoch: -1}
	for epoch := 0; epoch < req.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return hist, err
		}
		if req.Shuffle {
			m.rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
		}
		var loss float64
		for lo := 0; lo < n; lo += req.BatchSize {
			loss += m.trainBatch(feats, req.Y, req.SampleWeights, order[lo:min(lo+req.BatchSize, n)])
		}
		if n > 0 {
			loss /= float64(n)
		}
		hist.Loss = append(hist.Loss, loss)
		hist.BestEpoch = epoch

		if valFeats == nil {
			continue
		}
		ev := m.evaluate(valFeats, req.Validation.Y)
		hist.ValLoss = append(hist.ValLoss, ev.Loss)
		hist.ValAccuracy = append(hist.ValAccuracy, ev.Accuracy)
		if stopper == nil {
			continue
		}
		if v := stopper.value(ev); stopper.improved(v) {
			stopper.best, stopper.bestEpoch, stopper.wait = v, epoch, 0
			if stopper.cfg.RestoreBest {
				stopper.weights, stopper.bias = m.snapshot()
			}
		} else {
			stopper.wait++
			if stopper.wait >= stopper.cfg.Patience {
				hist.Stopped = true
				break
			}
		}
	}

	if stopper != nil {
		hist.BestEpoch = stopper.bestEpoch
		if stopper.cfg.RestoreBest && stopper.weights != nil {
			m.weights, m.bias = stopper.weights, stopper.bias
		}
	}
	return hist, nil
}

func (m *SoftmaxClassifier) trainBatch(feats [][]float64, y []int, sampleWeights []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	gradW := make([][]float64, m.cfg.Classes)
	for c := range gradW {
		gradW[c] = make([]float64, m.cfg.HashDim)
	}
	gradB := make([]float64, m.cfg.Classes)

	var loss float64
	for _, i := range idx {
		weight := 1.0
		if sampleWeights != nil {
			weight = sampleWeights[i]
		}
		in := m.forwardInput(feats[i])
		p := Softmax(m.logits(in))
		loss -= weight * math.Log(p[y[i]]+logEpsilon)
		for c := range p {
			g := weight * p[c]
			if c == y[i] {
				g -= weight
			}
			floats.AddScaled(gradW[c], g, in)
			gradB[c] += g
		}
	}

	scale := -m.schedule.Rate(m.step) / float64(len(idx))
	m.step++
	for c := range m.weights {
		floats.AddScaled(m.weights[c], scale, gradW[c])
		m.bias[c] += scale * gradB[c]
	}
	return loss
}

func (m *SoftmaxClassifier) forwardInput(v []float64) []float64 {
	if m.cfg.DenseDropout > 0 {
		return m.dropout(v)
	}
	return v
}

func (m *SoftmaxClassifier) snapshot() ([][]float64, []float64) {
	w := make([][]float64, len(m.weights))
	for c := range m.weights {
		w[c] = append([]float64(nil), m.weights[c]...)
	}
	return w, append([]float64(nil), m.bias...)
}

type weightsFile struct {
	Classes int         `json:"classes"`
	HashDim int         `json:"hash_dim"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// SaveWeights implements Model.
func (m *SoftmaxClassifier) SaveWeights(path string) error {
	m.mu.Lock()
	data, err := json.Marshal(weightsFile{
		Classes: m.cfg.Classes,
		HashDim: m.cfg.HashDim,
		Weights: m.weights,
		Bias:    m.bias,
	})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadWeights implements Model.
func (m *SoftmaxClassifier) LoadWeights(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var wf weightsFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIncompatibleWeights, path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.Classes != m.cfg.Classes || wf.HashDim != m.cfg.HashDim || len(wf.Weights) != wf.Classes || len(wf.Bias) != wf.Classes {
		return fmt.Errorf("%w: %s has %dx%d, model is %dx%d",
			ErrIncompatibleWeights, path, wf.Classes, wf.HashDim, m.cfg.Classes, m.cfg.HashDim)
	}
	for c, row := range wf.Weights {
		if len(row) != wf.HashDim {
			return fmt.Errorf("%w: %s row %d has %d weights", ErrIncompatibleWeights, path, c, len(row))
		}
	}
	m.weights, m.bias = wf.Weights, wf.Bias
	return nil
}
