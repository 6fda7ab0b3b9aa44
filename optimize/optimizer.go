// Package optimize contains inference drivers: variational inference
// (ADVI), Metropolis-Hastings sampling and MAP optimization.
package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/bmca/checkpoint"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizable is a model with parameters and a likelihood.
type Optimizable interface {
	GetFloatParameters() FloatParameters
	Copy() Optimizable
	Likelihood() float64
}

// Differentiable is a model with a differentiable log posterior
// density over its flat parameter vector.
type Differentiable interface {
	Optimizable
	// LogPosterior returns the log posterior density at x. If grad
	// is not nil, it is filled with the gradient.
	LogPosterior(x, grad []float64) (float64, error)
}

// Optimizer is an inference driver.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetCheckpointIO(*checkpoint.IO)
	SetTrajectoryOutput(io.Writer)
	Run(iterations int) error
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() []float64
	Trace() []float64
	Approximation() *Approximation
	Summary() interface{}
}

// BaseOptimizer contains the state shared by all optimizers.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	l          float64
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	cio        *checkpoint.IO
	trajectory io.Writer
	trace      []float64
	calls      int
	Quiet      bool
}

// SetOptimizable sets the model.
func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
	o.maxL = math.Inf(-1)
}

// WatchSignals makes the optimizer stop on the given signals.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

// SetReportPeriod sets how often progress is logged and written to
// the trajectory.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SetCheckpointIO enables checkpointing.
func (o *BaseOptimizer) SetCheckpointIO(cio *checkpoint.IO) {
	o.cio = cio
}

// SetTrajectoryOutput sets the trajectory writer; nil disables the
// trajectory.
func (o *BaseOptimizer) SetTrajectoryOutput(w io.Writer) {
	o.trajectory = w
}

// signaled returns true if a watched signal was received.
func (o *BaseOptimizer) signaled() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
	}
	return false
}

// PrintHeader writes the trajectory header.
func (o *BaseOptimizer) PrintHeader(objective string) {
	if !o.Quiet && o.trajectory != nil {
		fmt.Fprintf(o.trajectory, "iteration\t%s\t%s\n", objective, o.parameters.NamesString())
	}
}

// PrintLine writes a trajectory line if the iteration is reported.
func (o *BaseOptimizer) PrintLine(l float64, repPeriod int) {
	if o.Quiet || o.trajectory == nil || repPeriod <= 0 || o.i%repPeriod != 0 {
		return
	}
	fmt.Fprintf(o.trajectory, "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
}

// PrintFinal logs parameter values.
func (o *BaseOptimizer) PrintFinal() {
	if !o.Quiet {
		for _, par := range o.parameters {
			log.Debugf("%s=%v", par.Name(), par.Get())
		}
	}
}

// GetL returns the current objective value.
func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

// GetMaxL returns the maximum objective value found.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns parameter values at the maximum.
func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// Trace returns the objective history.
func (o *BaseOptimizer) Trace() []float64 {
	return o.trace
}

// update stores the maximum.
func (o *BaseOptimizer) update(l float64) {
	if l > o.maxL {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// baseSummary is the summary part common to all optimizers.
type baseSummary struct {
	Iterations int      `json:"iterations"`
	Calls      int      `json:"calls"`
	Final      *float64 `json:"final,omitempty"`
	Maximum    *float64 `json:"maximum,omitempty"`
}

func (o *BaseOptimizer) baseSummary() baseSummary {
	return baseSummary{
		Iterations: o.i,
		Calls:      o.calls,
		Final:      finite(o.l),
		Maximum:    finite(o.maxL),
	}
}

// finite returns nil for values JSON cannot represent.
func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
