package uncertainty

import (
	"context"
	"errors"
	"testing"

	"lsfts/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInferer returns logits that depend on the call count and the row's
// second token, so passes differ and rows are identifiable.
type scriptedInferer struct {
	calls      int
	stochastic []bool
	classes    int
	err        error
}

func (s *scriptedInferer) InferBatch(_ context.Context, x dataset.Features, stochastic bool) ([][]float64, error) {
	s.calls++
	s.stochastic = append(s.stochastic, stochastic)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, x.Len())
	for i, ids := range x.InputIDs {
		out[i] = make([]float64, s.classes)
		out[i][int(ids[1])%s.classes] = float64(1 + s.calls%3)
	}
	return out, nil
}

func features(n int) dataset.Features {
	var f dataset.Features
	for i := 0; i < n; i++ {
		f.InputIDs = append(f.InputIDs, []int32{dataset.ClsToken, int32(i), dataset.SepToken})
		f.TokenTypeIDs = append(f.TokenTypeIDs, []int32{0, 0, 0})
		f.AttentionMask = append(f.AttentionMask, []int32{1, 1, 1})
	}
	return f
}

func TestEstimate_Statistics(t *testing.T) {
	model := &scriptedInferer{classes: 3}
	est := NewEstimator(2, 0)

	s, err := est.Estimate(context.Background(), model, features(5), 4, 3)
	require.NoError(t, err)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 4*3, model.calls) // 3 batches per pass
	for _, st := range model.stochastic {
		assert.True(t, st)
	}
	require.Len(t, s.Passes, 4)
	require.Len(t, s.PassProbs, 4)

	for i := 0; i < s.Len(); i++ {
		sum := 0.0
		for c := 0; c < 3; c++ {
			sum += s.Mean[i][c]
			assert.GreaterOrEqual(t, s.Variance[i][c], 0.0)
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Equal(t, i%3, s.Majority[i])
		for p := range s.Passes {
			assert.Equal(t, i%3, s.Passes[p][i])
		}
	}
}

func TestEstimate_ChunkedMatchesCached(t *testing.T) {
	x := features(7)

	cached, err := NewEstimator(3, 0).Estimate(context.Background(), &scriptedInferer{classes: 2}, x, 3, 2)
	require.NoError(t, err)

	chunkedEst := NewEstimator(3, 4)
	chunked, err := chunkedEst.Estimate(context.Background(), &scriptedInferer{classes: 2}, x, 3, 2)
	require.NoError(t, err)

	assert.Equal(t, cached.Mean, chunked.Mean)
	assert.Equal(t, cached.Variance, chunked.Variance)
	assert.Equal(t, cached.Majority, chunked.Majority)
}

func TestEstimate_DeterministicMode(t *testing.T) {
	model := &scriptedInferer{classes: 2}
	est := NewEstimator(8, 0)
	est.Stochastic = false

	_, err := est.Estimate(context.Background(), model, features(3), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, model.stochastic)
}

func TestEstimate_Errors(t *testing.T) {
	ctx := context.Background()
	est := NewEstimator(4, 0)

	_, err := est.Estimate(ctx, &scriptedInferer{classes: 2}, features(3), 0, 2)
	assert.Error(t, err)

	_, err = est.Estimate(ctx, &scriptedInferer{classes: 2}, features(3), 2, 0)
	assert.Error(t, err)

	// Model emits 3 classes, caller expects 2.
	_, err = est.Estimate(ctx, &scriptedInferer{classes: 3}, features(3), 2, 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	boom := errors.New("device lost")
	_, err = est.Estimate(ctx, &scriptedInferer{classes: 2, err: boom}, features(3), 2, 2)
	assert.True(t, errors.Is(err, boom))

	bad := features(3)
	bad.AttentionMask = bad.AttentionMask[:1]
	_, err = est.Estimate(ctx, &scriptedInferer{classes: 2}, bad, 2, 2)
	assert.True(t, errors.Is(err, dataset.ErrShapeMismatch))
}

func TestEstimate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedInferer{classes: 2}
	_, err := NewEstimator(2, 0).Estimate(ctx, model, features(4), 3, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, model.calls)
}

func TestAggregate(t *testing.T) {
	passProbs := [][][]float64{
		{{1, 0}, {0.2, 0.8}},
		{{0, 1}, {0.4, 0.6}},
	}
	s := Aggregate(passProbs, 2)

	assert.Equal(t, []float64{0.5, 0.5}, s.Mean[0])
	assert.InDelta(t, 0.25, s.Variance[0][0], 1e-12)
	assert.InDelta(t, 0.25, s.Variance[0][1], 1e-12)
	assert.InDelta(t, 0.3, s.Mean[1][0], 1e-12)
	assert.InDelta(t, 0.01, s.Variance[1][0], 1e-12)

	assert.Equal(t, [][]int{{0, 1}, {1, 1}}, s.Passes)
	// Tied vote resolves to the lowest label.
	assert.Equal(t, []int{0, 1}, s.Majority)
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil, 2)
	assert.Zero(t, s.Len())
}

func TestMode(t *testing.T) {
	tests := []struct {
		labels []int
		want   int
	}{
		{[]int{1, 1, 0}, 1},
		{[]int{1, 0}, 0},
		{[]int{2, 1, 2, 1}, 1},
		{nil, 0},
		{[]int{5, 5, 1}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mode(tt.labels, 3), "labels %v", tt.labels)
	}
}
