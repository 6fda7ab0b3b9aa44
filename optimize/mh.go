package optimize

import (
	"errors"
	"math"
	"math/rand"

	"bitbucket.org/Davydov/bmca/checkpoint"
)

// MH is a Metropolis-Hastings sampler. Every iteration updates a
// single randomly chosen parameter. Running mean and variance of
// samples after the burn-in form the posterior approximation.
type MH struct {
	BaseOptimizer
	AccPeriod int
	BurnIn    int
	SD        float64
	rng       *rand.Rand

	n    int
	mean []float64
	m2   []float64
}

// NewMH creates a new MH sampler.
func NewMH(rng *rand.Rand) *MH {
	return &MH{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
		AccPeriod: 1000,
		SD:        1e-2,
		rng:       rng,
	}
}

// SetOptimizable sets the model and the proposal functions.
func (m *MH) SetOptimizable(opt Optimizable) {
	m.BaseOptimizer.SetOptimizable(opt)
	for _, par := range m.parameters {
		par.SetProposalFunc(NormalProposalRand(m.SD, m.rng))
	}
}

// collect updates the running moments (Welford).
func (m *MH) collect() {
	if m.mean == nil {
		m.mean = make([]float64, len(m.parameters))
		m.m2 = make([]float64, len(m.parameters))
	}
	m.n++
	for i, par := range m.parameters {
		x := par.Get()
		d := x - m.mean[i]
		m.mean[i] += d / float64(m.n)
		m.m2[i] += d * (x - m.mean[i])
	}
}

func (m *MH) save(final bool, l float64) {
	if m.cio == nil {
		return
	}
	data := &checkpoint.Data{
		Iter:      m.i,
		Final:     final,
		Objective: l,
		Values: map[string][]float64{
			"values": m.parameters.Values(nil),
		},
	}
	if m.n > 0 {
		data.Values["mean"] = m.mean
		data.Values["m2"] = m.m2
		data.Values["n"] = []float64{float64(m.n)}
	}
	m.cio.Save(data)
}

func (m *MH) restore() (bool, error) {
	if m.cio == nil {
		return false, nil
	}
	data, err := m.cio.Load()
	if err != nil || data == nil {
		return false, err
	}
	if err := m.parameters.SetValues(data.Values["values"]); err != nil {
		return false, err
	}
	if n := data.Values["n"]; len(n) == 1 {
		m.n = int(n[0])
		m.mean, m.m2 = data.Values["mean"], data.Values["m2"]
		if len(m.mean) != len(m.parameters) || len(m.m2) != len(m.parameters) {
			return false, errors.New("Checkpoint does not match the model")
		}
	}
	m.i = data.Iter
	return data.Final, nil
}

// Run starts sampling.
func (m *MH) Run(iterations int) error {
	final, err := m.restore()
	if err != nil {
		return err
	}
	if final {
		log.Notice("Sampling already finished")
		return nil
	}
	if m.i > 0 {
		log.Noticef("Resuming from iteration %d", m.i)
	}
	m.PrintHeader("likelihood")
	accepted := 0
	l := m.Likelihood()
	m.calls++
	if math.IsInf(l, -1) || math.IsNaN(l) {
		return errors.New("Likelihood is not finite at the starting point")
	}
	m.update(l)
Iter:
	for ; m.i < iterations; m.i++ {
		if m.i > 0 && m.i%m.AccPeriod == 0 {
			log.Infof("Acceptance rate %.2f%%", 100*float64(accepted)/float64(m.AccPeriod))
			accepted = 0
		}

		m.PrintLine(l, m.repPeriod)
		if m.repPeriod > 0 && m.i%m.repPeriod == 0 {
			log.Debugf("%d: L=%f", m.i, l)
		}
		p := m.rng.Intn(len(m.parameters))
		par := m.parameters[p]
		par.Propose()
		newL := m.Likelihood()
		m.calls++

		a := math.Exp(par.LogPrior() - par.OldLogPrior() + newL - l)

		if a > 1 || m.rng.Float64() < a {
			l = newL
			accepted++
			m.update(l)
		} else {
			par.Reject()
		}
		m.trace = append(m.trace, -l)
		if m.i >= m.BurnIn {
			m.collect()
		}
		if m.cio != nil && m.cio.Old() {
			m.save(false, l)
		}

		if m.signaled() {
			m.i++
			m.l = l
			m.save(false, l)
			break Iter
		}
	}
	m.l = l
	if m.i >= iterations {
		m.save(true, l)
	}
	m.PrintFinal()
	return nil
}

// Approximation returns the sample moments after the burn-in or the
// current state if there are not enough samples.
func (m *MH) Approximation() *Approximation {
	names := m.parameters.Names(nil)
	if m.n < 2 {
		return &Approximation{Names: names, Mean: m.parameters.Values(nil)}
	}
	sd := make([]float64, len(m.m2))
	for i, v := range m.m2 {
		sd[i] = math.Sqrt(v / float64(m.n-1))
	}
	return &Approximation{
		Names: names,
		Mean:  append([]float64(nil), m.mean...),
		SD:    sd,
	}
}

// MHSummary summarizes a sampling run.
type MHSummary struct {
	baseSummary
	Method  string `json:"method"`
	BurnIn  int    `json:"burnIn"`
	Samples int    `json:"samples"`
}

// Summary returns the run summary.
func (m *MH) Summary() interface{} {
	return MHSummary{
		baseSummary: m.baseSummary(),
		Method:      "mh",
		BurnIn:      m.BurnIn,
		Samples:     m.n,
	}
}
