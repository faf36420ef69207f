package sampling

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BALD returns the mutual information between the prediction and the model
// posterior, approximated from T passes laid out as T x N x C:
// H(mean_t p_t) - mean_t H(p_t). Results are clamped at 0.
func BALD(passProbs [][][]float64) []float64 {
	passes := len(passProbs)
	if passes == 0 {
		return nil
	}
	out := make([]float64, len(passProbs[0]))
	for i := range out {
		mean := make([]float64, len(passProbs[0][i]))
		var expected float64
		for t := 0; t < passes; t++ {
			floats.Add(mean, passProbs[t][i])
			expected += stat.Entropy(passProbs[t][i])
		}
		floats.Scale(1/float64(passes), mean)
		expected /= float64(passes)
		out[i] = math.Max(0, stat.Entropy(mean)-expected)
	}
	return out
}

type baldPolicy struct {
	classBalanced bool
}

func (p *baldPolicy) Select(req Request) (Selection, error) {
	if err := req.validate(); err != nil {
		return Selection{}, err
	}
	if len(req.PassProbs) == 0 {
		return Selection{}, fmt.Errorf("BALD easiness needs per-pass probabilities")
	}

	n := req.X.Len()
	size := min(req.Size, n)
	bald := BALD(req.PassProbs)
	cands := make([]candidate, n)
	for i := range cands {
		cands[i] = candidate{index: i, score: 1 - bald[i], conf: req.confidence(i)}
	}

	var sel Selection
	if p.classBalanced {
		chosen, quotas, borrowed := takeBalanced(cands, req.Labels, req.Classes, size)
		sel = req.build(chosen, quotas, borrowed)
	} else {
		sel = req.build(takeTop(cands, size), nil, 0)
	}

	log.Info().
		Int("pool", n).
		Int("requested", req.Size).
		Int("selected", sel.Len()).
		Ints("per_class", sel.PerClass).
		Bool("class_balanced", p.classBalanced).
		Msg("BALD easiness sampling finished")
	return sel, nil
}
