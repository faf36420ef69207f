package ml

import "math"

// Schedule maps an optimizer step to a learning rate.
type Schedule interface {
	Rate(step int) float64
}

// ConstantRate is a fixed learning rate.
type ConstantRate float64

func (r ConstantRate) Rate(int) float64 { return float64(r) }

// PolynomialDecay decays from Initial to End over DecaySteps, then stays at End.
// Power 0 is treated as 1 (linear decay).
type PolynomialDecay struct {
	Initial    float64
	End        float64
	DecaySteps int
	Power      float64
}

func (p PolynomialDecay) Rate(step int) float64 {
	if p.DecaySteps <= 0 {
		return p.End
	}
	power := p.Power
	if power == 0 {
		power = 1
	}
	s := math.Min(float64(step), float64(p.DecaySteps))
	return (p.Initial-p.End)*math.Pow(1-s/float64(p.DecaySteps), power) + p.End
}
