package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"

	"bitbucket.org/Davydov/bmca/checkpoint"
)

// LBFGSB finds the maximum a posteriori estimate using the analytic
// gradient of the log posterior.
type LBFGSB struct {
	BaseOptimizer
	model Differentiable
	grad  []float64
	err   error
}

// NewLBFGSB creates a new MAP optimizer.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
	}
}

// SetOptimizable sets the model; it has to implement Differentiable.
func (l *LBFGSB) SetOptimizable(opt Optimizable) {
	l.BaseOptimizer.SetOptimizable(opt)
	l.model, _ = opt.(Differentiable)
}

// Logger is called by the optimizer after every iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.parameters.SetValues(info.X)
	l.l = -info.F
	l.trace = append(l.trace, info.F)
	l.PrintLine(l.l, l.repPeriod)
	if l.repPeriod > 0 && l.i%l.repPeriod == 0 {
		log.Infof("%d: lnP=%f", l.i, l.l)
	}
	if l.cio != nil && l.cio.Old() {
		l.save(false, info.X)
	}
	// the optimizer cannot be interrupted
	if l.signaled() {
		l.save(false, info.X)
		log.Fatal("Interrupted")
	}
}

func (l *LBFGSB) save(final bool, x []float64) {
	if l.cio == nil {
		return
	}
	l.cio.Save(&checkpoint.Data{
		Iter:      l.i,
		Final:     final,
		Objective: l.l,
		Trace:     l.trace,
		Values:    map[string][]float64{"x": x},
	})
}

// EvaluateFunction returns the negative log posterior.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	lp, err := l.model.LogPosterior(x, nil)
	l.calls++
	if err != nil {
		l.err = err
		return math.Inf(+1)
	}
	if lp > l.maxL {
		l.maxL = lp
		l.maxLPar = append(l.maxLPar[:0], x...)
	}
	return -lp
}

// EvaluateGradient returns the gradient of the negative log
// posterior.
func (l *LBFGSB) EvaluateGradient(x []float64) []float64 {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	_, err := l.model.LogPosterior(x, l.grad)
	l.calls++
	if err != nil {
		l.err = err
		for i := range l.grad {
			l.grad[i] = 0
		}
		return l.grad
	}
	for i := range l.grad {
		l.grad[i] = -l.grad[i]
	}
	return l.grad
}

// Run starts the optimization. The number of iterations is
// controlled by the convergence criteria.
func (l *LBFGSB) Run(iterations int) error {
	if l.model == nil {
		return ErrNotDifferentiable
	}
	if l.cio != nil {
		data, err := l.cio.Load()
		if err != nil {
			return err
		}
		if data != nil {
			if err := l.parameters.SetValues(data.Values["x"]); err != nil {
				return err
			}
			l.trace = data.Trace
			if data.Final {
				log.Notice("Optimization already finished")
				l.l = data.Objective
				l.maxL = l.l
				l.maxLPar = l.parameters.Values(nil)
				return nil
			}
		}
	}
	l.PrintHeader("lnP")

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))

	log.Infof("Exit status: %v", exitStatus)
	if l.err != nil {
		log.Warningf("Some evaluations failed, last error: %v", l.err)
	}
	if l.maxLPar == nil {
		return l.err
	}
	l.parameters.SetValues(l.maxLPar)
	l.l = l.maxL
	l.save(true, l.maxLPar)

	log.Infof("Maximum log posterior: %v", l.maxL)
	log.Infof("Function calls: %v", l.calls)
	l.PrintFinal()
	return nil
}

// Approximation returns the point estimate.
func (l *LBFGSB) Approximation() *Approximation {
	return &Approximation{
		Names: l.parameters.Names(nil),
		Mean:  l.parameters.Values(nil),
	}
}

// LBFGSBSummary summarizes an optimization run.
type LBFGSBSummary struct {
	baseSummary
	Method string `json:"method"`
}

// Summary returns the run summary.
func (l *LBFGSB) Summary() interface{} {
	return LBFGSBSummary{
		baseSummary: l.baseSummary(),
		Method:      "lbfgsb",
	}
}
