package optimize

import (
	"math/rand"
)

// NormalProposal returns a random walk proposal with normally
// distributed steps. Steps are drawn from the global random source.
func NormalProposal(sd float64) func(float64) float64 {
	if sd <= 0 {
		panic("sd should be > 0")
	}
	return func(x float64) float64 {
		return x + rand.NormFloat64()*sd
	}
}

// NormalProposalRand is like NormalProposal but uses the given random
// source.
func NormalProposalRand(sd float64, rng *rand.Rand) func(float64) float64 {
	if sd <= 0 {
		panic("sd should be > 0")
	}
	return func(x float64) float64 {
		return x + rng.NormFloat64()*sd
	}
}
