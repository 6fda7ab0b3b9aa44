package optimize

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/bmca/checkpoint"
)

// ErrNotDifferentiable is returned when a gradient based method is used
// with a model without gradient.
var ErrNotDifferentiable = errors.New("Model is not differentiable")

// entropy constant of a standard normal per dimension
var normalEntropy = 0.5 * (1 + math.Log(2*math.Pi))

// ADVI is a mean-field automatic differentiation variational
// inference. Standard deviations are parametrized as softplus(rho).
// Steps use adagrad with a sliding window over squared gradients.
type ADVI struct {
	BaseOptimizer
	model        Differentiable
	LearningRate float64
	MaxNorm      float64
	Samples      int
	Window       int
	Epsilon      float64
	rng          *rand.Rand

	mu   []float64
	rho  []float64
	accu [][]float64
}

// NewADVI creates a new variational optimizer.
func NewADVI(rng *rand.Rand) *ADVI {
	return &ADVI{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 100,
		},
		LearningRate: 5e-3,
		MaxNorm:      100,
		Samples:      1,
		Window:       10,
		Epsilon:      1e-6,
		rng:          rng,
	}
}

// SetOptimizable sets the model; it has to implement Differentiable.
func (a *ADVI) SetOptimizable(opt Optimizable) {
	a.BaseOptimizer.SetOptimizable(opt)
	a.model, _ = opt.(Differentiable)
}

func (a *ADVI) init() {
	n := len(a.parameters)
	a.mu = a.parameters.Values(nil)
	a.rho = make([]float64, n)
	a.accu = make([][]float64, a.Window)
	for i := range a.accu {
		a.accu[i] = make([]float64, 2*n)
	}
	a.i = 0
	a.trace = nil
}

// restore loads the state from the checkpoint. It returns true if the
// checkpointed run was finished.
func (a *ADVI) restore() (bool, error) {
	if a.cio == nil {
		return false, nil
	}
	data, err := a.cio.Load()
	if err != nil || data == nil {
		return false, err
	}
	n := len(a.parameters)
	mu, rho, accu := data.Values["mu"], data.Values["rho"], data.Values["accu"]
	if len(mu) != n || len(rho) != n || len(accu) != 2*n*a.Window {
		return false, errors.New("Checkpoint does not match the model")
	}
	a.mu, a.rho = mu, rho
	for i := range a.accu {
		copy(a.accu[i], accu[i*2*n:(i+1)*2*n])
	}
	a.i = data.Iter
	a.trace = data.Trace
	a.l = -data.Objective
	return data.Final, nil
}

func (a *ADVI) save(final bool) {
	if a.cio == nil {
		return
	}
	accu := make([]float64, 0, len(a.accu)*len(a.mu)*2)
	for _, v := range a.accu {
		accu = append(accu, v...)
	}
	data := &checkpoint.Data{
		Iter:      a.i,
		Final:     final,
		Objective: -a.l,
		Trace:     a.trace,
		Values: map[string][]float64{
			"mu":   a.mu,
			"rho":  a.rho,
			"accu": accu,
		},
	}
	if err := a.cio.Save(data); err == nil {
		log.Debugf("Checkpoint saved at iteration %d", a.i)
	}
}

// elbo estimates the evidence lower bound and its gradient with
// respect to mu and rho.
func (a *ADVI) elbo(gmu, grho []float64) (float64, error) {
	n := len(a.mu)
	theta := make([]float64, n)
	eps := make([]float64, n)
	g := make([]float64, n)
	sigma := make([]float64, n)
	for i, r := range a.rho {
		sigma[i] = softplus(r)
	}
	for i := range gmu {
		gmu[i] = 0
		grho[i] = 0
	}
	w := 1 / float64(a.Samples)
	res := 0.0
	for s := 0; s < a.Samples; s++ {
		for i := range theta {
			eps[i] = a.rng.NormFloat64()
			theta[i] = a.mu[i] + sigma[i]*eps[i]
		}
		lp, err := a.model.LogPosterior(theta, g)
		a.calls++
		if err != nil {
			return math.NaN(), err
		}
		res += w * lp
		for i := range g {
			gmu[i] += w * g[i]
			grho[i] += w * g[i] * eps[i] * sigmoid(a.rho[i])
		}
	}
	for i, s := range sigma {
		res += math.Log(s) + normalEntropy
		grho[i] += sigmoid(a.rho[i]) / s
	}
	if math.IsNaN(res) || math.IsInf(res, 0) {
		return res, fmt.Errorf("ELBO is not finite (%v)", res)
	}
	return res, nil
}

// step clips the gradient and performs the adagrad-window update.
func (a *ADVI) step(grad []float64) {
	if norm := floats.Norm(grad, 2); norm > a.MaxNorm {
		floats.Scale(a.MaxNorm/norm, grad)
	}
	cur := a.accu[a.i%a.Window]
	for i, g := range grad {
		cur[i] = g * g
	}
	n := len(a.mu)
	for i, g := range grad {
		sum := 0.0
		for _, acc := range a.accu {
			sum += acc[i]
		}
		d := a.LearningRate * g / math.Sqrt(sum+a.Epsilon)
		if i < n {
			a.mu[i] += d
		} else {
			a.rho[i-n] += d
		}
	}
}

// Run performs the given total number of iterations. A resumed run
// continues from the checkpointed iteration.
func (a *ADVI) Run(iterations int) error {
	if a.model == nil {
		return ErrNotDifferentiable
	}
	a.init()
	final, err := a.restore()
	if err != nil {
		return err
	}
	if final {
		log.Notice("Variational optimization already finished")
		return a.parameters.SetValues(a.mu)
	}
	if a.i > 0 {
		log.Noticef("Resuming from iteration %d", a.i)
	}

	n := len(a.mu)
	grad := make([]float64, 2*n)
	a.PrintHeader("elbo")
	for a.i < iterations {
		elbo, err := a.elbo(grad[:n], grad[n:])
		if err == nil && !allFinite(grad) {
			err = errors.New("Gradient is not finite")
		}
		if err != nil {
			log.Errorf("Iteration %d failed: %v", a.i, err)
			a.save(false)
			a.parameters.SetValues(a.mu)
			return fmt.Errorf("iteration %d: %w", a.i, err)
		}
		a.l = elbo
		a.trace = append(a.trace, -elbo)
		if elbo > a.maxL {
			a.maxL = elbo
			a.maxLPar = append(a.maxLPar[:0], a.mu...)
		}
		a.step(grad)

		if a.repPeriod > 0 && a.i%a.repPeriod == 0 {
			log.Infof("%d: -ELBO=%g", a.i, -elbo)
			a.parameters.SetValues(a.mu)
			a.PrintLine(elbo, a.repPeriod)
		}
		a.i++

		if a.cio != nil && a.cio.Old() {
			a.save(false)
		}
		if a.signaled() {
			a.save(false)
			a.parameters.SetValues(a.mu)
			return nil
		}
	}
	a.save(true)
	a.PrintFinal()
	return a.parameters.SetValues(a.mu)
}

// Approximation returns the current variational distribution.
func (a *ADVI) Approximation() *Approximation {
	sd := make([]float64, len(a.rho))
	for i, r := range a.rho {
		sd[i] = softplus(r)
	}
	return &Approximation{
		Names: a.parameters.Names(nil),
		Mean:  append([]float64(nil), a.mu...),
		SD:    sd,
	}
}

// ADVISummary summarizes a variational run.
type ADVISummary struct {
	baseSummary
	Method       string  `json:"method"`
	LearningRate float64 `json:"learningRate"`
	MaxNorm      float64 `json:"maxNorm"`
	Samples      int     `json:"samples"`
}

// Summary returns the run summary.
func (a *ADVI) Summary() interface{} {
	return ADVISummary{
		baseSummary:  a.baseSummary(),
		Method:       "advi",
		LearningRate: a.LearningRate,
		MaxNorm:      a.MaxNorm,
		Samples:      a.Samples,
	}
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
