package optimize

import (
	"errors"
	"math"
	"math/rand"
)

// Approximation is a fully factorized normal approximation of the
// posterior. SD is nil for point estimates.
type Approximation struct {
	Names []string  `json:"names"`
	Mean  []float64 `json:"mean"`
	SD    []float64 `json:"sd,omitempty"`
}

// NewApproximation creates a new approximation and checks the
// dimensions.
func NewApproximation(names []string, mean, sd []float64) (*Approximation, error) {
	if len(names) != len(mean) || (sd != nil && len(sd) != len(mean)) {
		return nil, errors.New("Approximation dimensions do not match")
	}
	return &Approximation{Names: names, Mean: mean, SD: sd}, nil
}

// Len returns the number of parameters.
func (a *Approximation) Len() int {
	return len(a.Mean)
}

// Index returns the position of the named parameter or -1.
func (a *Approximation) Index(name string) int {
	for i, n := range a.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Sample draws n parameter vectors.
func (a *Approximation) Sample(n int, rng *rand.Rand) [][]float64 {
	res := make([][]float64, n)
	for k := range res {
		x := make([]float64, len(a.Mean))
		copy(x, a.Mean)
		if a.SD != nil {
			for i := range x {
				x[i] += a.SD[i] * rng.NormFloat64()
			}
		}
		res[k] = x
	}
	return res
}

// softplus computes log(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
