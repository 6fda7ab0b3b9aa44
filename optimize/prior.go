package optimize

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prior is a log prior density together with its derivative.
type Prior interface {
	LogProb(x float64) float64
	Grad(x float64) float64
}

// NormalPrior is a normal distribution.
type NormalPrior struct {
	Mu, Sigma float64
}

// LogProb returns the log density.
func (p NormalPrior) LogProb(x float64) float64 {
	return distuv.Normal{Mu: p.Mu, Sigma: p.Sigma}.LogProb(x)
}

// Grad returns the derivative of the log density.
func (p NormalPrior) Grad(x float64) float64 {
	return (p.Mu - x) / (p.Sigma * p.Sigma)
}

// LaplacePrior is a Laplace (double exponential) distribution.
type LaplacePrior struct {
	Mu, Scale float64
}

// LogProb returns the log density.
func (p LaplacePrior) LogProb(x float64) float64 {
	return distuv.Laplace{Mu: p.Mu, Scale: p.Scale}.LogProb(x)
}

// Grad returns the derivative of the log density; zero at the mode.
func (p LaplacePrior) Grad(x float64) float64 {
	switch {
	case x > p.Mu:
		return -1 / p.Scale
	case x < p.Mu:
		return 1 / p.Scale
	}
	return 0
}

// LogHalfNormalPrior is a half-normal distribution of exp(x), i.e. a
// positive variable parametrized by its logarithm. The density
// includes the Jacobian of the transformation.
type LogHalfNormalPrior struct {
	Sigma float64
}

// LogProb returns the log density of x = log(y), y ~ HalfNormal(Sigma).
func (p LogHalfNormalPrior) LogProb(x float64) float64 {
	y := math.Exp(x)
	return math.Ln2 + distuv.Normal{Mu: 0, Sigma: p.Sigma}.LogProb(y) + x
}

// Grad returns the derivative of the log density.
func (p LogHalfNormalPrior) Grad(x float64) float64 {
	y := math.Exp(x)
	return 1 - y*y/(p.Sigma*p.Sigma)
}
