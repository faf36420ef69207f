package selftrain

import "math"

const confidenceEpsilon = 1e-10

// ConfidenceWeight is -alpha * ln(conf + 1e-10), clamped at 0. Less confident
// pseudo-labels get larger weights.
func ConfidenceWeight(conf, alpha float64) float64 {
	return math.Max(0, -math.Log(conf+confidenceEpsilon)*alpha)
}

// SampleWeights returns one retraining weight per pseudo-label: all ones
// unless confidence weighting is on.
func SampleWeights(confidence []float64, alpha float64, useConfidence bool) []float64 {
	w := make([]float64, len(confidence))
	for i, c := range confidence {
		if useConfidence {
			w[i] = ConfidenceWeight(c, alpha)
		} else {
			w[i] = 1
		}
	}
	return w
}
