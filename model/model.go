// Package model assembles the Bayesian linlog model: priors over
// elasticities, enzyme activities and external effectors, the
// steady-state solution for every condition and the likelihood of the
// observed metabolite and flux changes.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/optimize"
)

var log = logging.MustGetLogger("model")

// ErrNonFinite is returned when the log probability is not finite.
var ErrNonFinite = errors.New("non-finite log probability")

// Block is a named contiguous part of the parameter vector.
type Block struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	// Prior is a distribution description, e.g. Normal(0, 10).
	Prior string `json:"prior"`
}

// Definition describes the parameter layout.
type Definition struct {
	Blocks     []Block            `json:"blocks"`
	Names      []string           `json:"names"`
	Kinetic    []elasticity.Entry `json:"kinetic"`
	Regulatory []elasticity.Entry `json:"regulatory"`
	Config     Config             `json:"config"`
}

// Model is the posterior density over the flat parameter vector.
type Model struct {
	*Inputs
	kinetic    []elasticity.Entry
	regulatory []elasticity.Entry
	blocks     []Block
	priors     []optimize.Prior
	names      []string

	theta      []float64
	parameters optimize.FloatParameters
}

// block indices
const (
	kineticBlock = iota
	regulatoryBlock
	measuredBlock
	unmeasuredBlock
	externalBlock
)

// New creates the model and initializes the parameters.
func New(in *Inputs, rng *rand.Rand) *Model {
	t := in.Template
	n := in.Network
	cfg := in.Config
	m := &Model{
		Inputs:     in,
		kinetic:    t.Entries(elasticity.Kinetic),
		regulatory: t.Entries(elasticity.Regulatory),
	}
	nc := len(in.Conditions)
	nmeas, nlap, ny := len(in.Perm.Measured), len(in.Perm.Laplace), t.NEffectors()

	add := func(name string, size int, prior string) {
		off := 0
		if len(m.blocks) > 0 {
			last := m.blocks[len(m.blocks)-1]
			off = last.Offset + last.Size
		}
		m.blocks = append(m.blocks, Block{Name: name, Offset: off, Size: size, Prior: prior})
	}
	add("ex_kinetic", len(m.kinetic), fmt.Sprintf("LogHalfNormal(%g)", cfg.KineticSigma))
	add("ex_regulatory", len(m.regulatory), fmt.Sprintf("Laplace(0, %g)", cfg.RegulatoryScale))
	add("log_e_measured", nc*nmeas, fmt.Sprintf("Normal(log e, %g)", cfg.MeasuredSigma))
	add("log_e_unmeasured", nc*nlap, fmt.Sprintf("Laplace(0, %g)", cfg.UnmeasuredScale))
	add("yn", nc*ny, fmt.Sprintf("Normal(0, %g)", cfg.ExternalSigma))
	last := m.blocks[len(m.blocks)-1]
	size := last.Offset + last.Size

	m.theta = make([]float64, size)
	m.priors = make([]optimize.Prior, 0, size)
	m.names = make([]string, 0, size)
	rid, mid := n.ReactionIDs(), n.MetaboliteIDs()

	for _, e := range m.kinetic {
		g := math.Abs(t.Guess.At(e.Reaction, e.Metabolite))
		if g == 0 {
			g = 0.1 + math.Abs(rng.NormFloat64())
		}
		m.theta[len(m.names)] = math.Log(g)
		m.priors = append(m.priors, optimize.LogHalfNormalPrior{Sigma: cfg.KineticSigma})
		m.names = append(m.names, fmt.Sprintf("ex_kinetic[%s,%s]", rid[e.Reaction], mid[e.Metabolite]))
	}
	for _, e := range m.regulatory {
		m.theta[len(m.names)] = 0.01 * rng.NormFloat64()
		m.priors = append(m.priors, optimize.LaplacePrior{Mu: 0, Scale: cfg.RegulatoryScale})
		m.names = append(m.names, fmt.Sprintf("ex_regulatory[%s,%s]", rid[e.Reaction], mid[e.Metabolite]))
	}
	for k, c := range in.Conditions {
		for j, r := range in.Perm.Measured {
			le := math.Log(in.EN.At(k, j))
			m.theta[len(m.names)] = le
			m.priors = append(m.priors, optimize.NormalPrior{Mu: le, Sigma: cfg.MeasuredSigma})
			m.names = append(m.names, fmt.Sprintf("log_e_measured[%s,%s]", c, rid[r]))
		}
	}
	for _, c := range in.Conditions {
		for _, r := range in.Perm.Laplace {
			m.priors = append(m.priors, optimize.LaplacePrior{Mu: 0, Scale: cfg.UnmeasuredScale})
			m.names = append(m.names, fmt.Sprintf("log_e_unmeasured[%s,%s]", c, rid[r]))
		}
	}
	for _, c := range in.Conditions {
		for _, eff := range t.Effectors {
			m.theta[len(m.names)] = 0.1 * rng.NormFloat64()
			m.priors = append(m.priors, optimize.NormalPrior{Mu: 0, Sigma: cfg.ExternalSigma})
			m.names = append(m.names, fmt.Sprintf("yn[%s,%s]", c, eff))
		}
	}
	m.setupParameters()
	log.Infof("Model has %d parameters in %d conditions", size, nc)
	for _, b := range m.blocks {
		log.Debugf("%s: %d parameters, prior %s", b.Name, b.Size, b.Prior)
	}
	return m
}

func (m *Model) setupParameters() {
	m.parameters = make(optimize.FloatParameters, 0, len(m.theta))
	for i := range m.theta {
		m.parameters.Append(optimize.NewBasicFloatParameter(&m.theta[i], m.names[i], m.priors[i]))
	}
}

// GetFloatParameters returns the model parameters.
func (m *Model) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// Copy returns a model with a copy of the parameter vector sharing
// the inputs.
func (m *Model) Copy() optimize.Optimizable {
	c := &Model{
		Inputs:     m.Inputs,
		kinetic:    m.kinetic,
		regulatory: m.regulatory,
		blocks:     m.blocks,
		priors:     m.priors,
		names:      m.names,
		theta:      append([]float64(nil), m.theta...),
	}
	c.setupParameters()
	return c
}

// Len returns the number of parameters.
func (m *Model) Len() int {
	return len(m.theta)
}

// Definition returns the model parameter layout.
func (m *Model) Definition() *Definition {
	return &Definition{
		Blocks:     m.blocks,
		Names:      m.names,
		Kinetic:    m.kinetic,
		Regulatory: m.regulatory,
		Config:     m.Config,
	}
}

// Elasticity returns the elasticity matrix for the parameter vector.
func (m *Model) Elasticity(x []float64) *mat.Dense {
	ex := mat.NewDense(m.Template.NR, m.Template.NM, nil)
	off := m.blocks[kineticBlock].Offset
	for i, e := range m.kinetic {
		ex.Set(e.Reaction, e.Metabolite, e.Sign*math.Exp(x[off+i]))
	}
	off = m.blocks[regulatoryBlock].Offset
	for i, e := range m.regulatory {
		ex.Set(e.Reaction, e.Metabolite, x[off+i])
	}
	return ex
}

// activities returns enzyme activity ratios in the canonical reaction
// order for condition k.
func (m *Model) activities(x []float64, k int) []float64 {
	nmeas, nlap := len(m.Perm.Measured), len(m.Perm.Laplace)
	meas := m.blocks[measuredBlock].Offset + k*nmeas
	lap := m.blocks[unmeasuredBlock].Offset + k*nlap
	e := make([]float64, m.Perm.Len())
	m.Perm.Assemble(x[meas:meas+nmeas], x[lap:lap+nlap], e)
	for r, v := range e {
		e[r] = math.Exp(v)
	}
	return e
}

func (m *Model) external(x []float64, k int) []float64 {
	ny := m.Template.NEffectors()
	off := m.blocks[externalBlock].Offset + k*ny
	return x[off : off+ny]
}

// evaluate computes the log likelihood and the log prior. If grad is
// not nil, the gradient of their sum is added to it.
func (m *Model) evaluate(x, grad []float64) (lnL, lnPrior float64, err error) {
	if len(x) != len(m.theta) {
		return 0, 0, fmt.Errorf("got %d parameters, expected %d", len(x), len(m.theta))
	}
	for i, p := range m.priors {
		lnPrior += p.LogProb(x[i])
		if grad != nil {
			grad[i] += p.Grad(x[i])
		}
	}

	nc := len(m.Conditions)
	ex := m.Elasticity(x)
	es := make([][]float64, nc)
	ys := make([][]float64, nc)
	for k := range m.Conditions {
		es[k] = m.activities(x, k)
		ys[k] = m.external(x, k)
	}
	states, err := m.solver.SolveBatch(ex, es, ys)
	if err != nil {
		return 0, 0, err
	}

	cfg := m.Config
	c := cfg.Clip
	xNorm := distuv.Normal{Mu: 0, Sigma: cfg.MetaboliteSigma}
	vNorm := distuv.Normal{Mu: 0, Sigma: cfg.FluxSigma}
	xs2 := cfg.MetaboliteSigma * cfg.MetaboliteSigma
	vs2 := cfg.FluxSigma * cfg.FluxSigma
	var gxs, gvs [][]float64
	if grad != nil {
		gxs = make([][]float64, nc)
		if m.VN != nil {
			gvs = make([][]float64, nc)
		}
	}
	for k, st := range states {
		var gx, gv []float64
		if grad != nil {
			gx = make([]float64, m.Template.NM)
			gxs[k] = gx
		}
		for j, idx := range m.XInds {
			pred := st.X[idx]
			pc := clip(pred, c)
			obs := m.XN.At(k, j)
			lnL += xNorm.LogProb(obs - pc)
			if gx != nil && math.Abs(pred) <= c {
				gx[idx] += (obs - pc) / xs2
			}
		}
		if m.VN == nil {
			continue
		}
		if grad != nil {
			gv = make([]float64, m.Template.NR)
			gvs[k] = gv
		}
		for j, r := range m.VInds {
			v := st.V[r]
			vc := math.Max(minFlux, math.Min(maxFlux, v))
			lv := math.Log(vc)
			lc := clip(lv, c)
			obs := m.VN.At(k, j)
			lnL += vNorm.LogProb(obs - lc)
			if gv != nil && v >= minFlux && v <= maxFlux && math.Abs(lv) <= c {
				gv[r] += (obs - lc) / vs2 / vc
			}
		}
	}
	if math.IsNaN(lnL) || math.IsInf(lnL, 0) || math.IsNaN(lnPrior) || math.IsInf(lnPrior, 0) {
		return lnL, lnPrior, ErrNonFinite
	}
	if grad == nil {
		return lnL, lnPrior, nil
	}

	gEx, gEs, gYs := m.solver.BackwardBatch(states, gxs, gvs)
	off := m.blocks[kineticBlock].Offset
	for i, e := range m.kinetic {
		grad[off+i] += gEx.At(e.Reaction, e.Metabolite) * ex.At(e.Reaction, e.Metabolite)
	}
	off = m.blocks[regulatoryBlock].Offset
	for i, e := range m.regulatory {
		grad[off+i] += gEx.At(e.Reaction, e.Metabolite)
	}
	nmeas, nlap, ny := len(m.Perm.Measured), len(m.Perm.Laplace), m.Template.NEffectors()
	for k := range states {
		gLogE := make([]float64, len(gEs[k]))
		for r, g := range gEs[k] {
			gLogE[r] = g * es[k][r]
		}
		meas := m.blocks[measuredBlock].Offset + k*nmeas
		lap := m.blocks[unmeasuredBlock].Offset + k*nlap
		m.Perm.Scatter(gLogE, grad[meas:meas+nmeas], grad[lap:lap+nlap])
		y := m.blocks[externalBlock].Offset + k*ny
		for j, g := range gYs[k] {
			grad[y+j] += g
		}
	}
	if !finite(grad) {
		return lnL, lnPrior, ErrNonFinite
	}
	return lnL, lnPrior, nil
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// LogPosterior returns the unnormalized log posterior density at x.
// If grad is not nil, it is filled with the gradient.
func (m *Model) LogPosterior(x, grad []float64) (float64, error) {
	if grad != nil {
		if len(grad) != len(x) {
			return 0, fmt.Errorf("gradient length %d, expected %d", len(grad), len(x))
		}
		for i := range grad {
			grad[i] = 0
		}
	}
	lnL, lnPrior, err := m.evaluate(x, grad)
	if err != nil {
		return math.NaN(), err
	}
	return lnL + lnPrior, nil
}

// Gradient fills grad with the gradient of the log posterior at x.
func (m *Model) Gradient(x, grad []float64) error {
	_, err := m.LogPosterior(x, grad)
	return err
}

// Likelihood returns the data log likelihood at the current parameter
// values; -Inf if the steady state cannot be computed.
func (m *Model) Likelihood() float64 {
	lnL, _, err := m.evaluate(m.theta, nil)
	if err != nil {
		log.Debugf("Likelihood evaluation failed: %v", err)
		return math.Inf(-1)
	}
	return lnL
}

// Values returns a copy of the current parameter vector.
func (m *Model) Values() []float64 {
	return append([]float64(nil), m.theta...)
}

// SteadyState returns metabolite deviations and flux ratios (both
// conditions × variables) for the parameter vector.
func (m *Model) SteadyState(x []float64) (xs, vs *mat.Dense, err error) {
	nc := len(m.Conditions)
	es := make([][]float64, nc)
	ys := make([][]float64, nc)
	for k := range m.Conditions {
		es[k] = m.activities(x, k)
		ys[k] = m.external(x, k)
	}
	states, err := m.solver.SolveBatch(m.Elasticity(x), es, ys)
	if err != nil {
		return nil, nil, err
	}
	xs = mat.NewDense(nc, m.Template.NM, nil)
	vs = mat.NewDense(nc, m.Template.NR, nil)
	for k, st := range states {
		xs.SetRow(k, st.X)
		vs.SetRow(k, st.V)
	}
	return xs, vs, nil
}
