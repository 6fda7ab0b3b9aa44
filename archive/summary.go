package archive

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/model"
	"bitbucket.org/Davydov/bmca/optimize"
)

const (
	// tail is the fraction of the trace used for convergence
	// statistics.
	tail = 0.1
	// MinSamples is the smallest number of draws giving a 95%
	// interval.
	MinSamples = 40
)

// ParameterSummary is the marginal posterior of a parameter.
type ParameterSummary struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	SD    float64 `json:"sd"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ElasticitySummary is the marginal posterior of an elasticity.
type ElasticitySummary struct {
	Reaction   string  `json:"reaction"`
	Metabolite string  `json:"metabolite"`
	Kind       string  `json:"kind"`
	Median     float64 `json:"median"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
}

// TraceSummary describes convergence of the objective trace.
type TraceSummary struct {
	Iterations int     `json:"iterations"`
	Final      float64 `json:"final"`
	Min        float64 `json:"min"`
	TailMean   float64 `json:"tailMean"`
	TailSD     float64 `json:"tailSD"`
}

// Summary is the posterior summary written next to the archives.
type Summary struct {
	RunID        string              `json:"runId"`
	Method       string              `json:"method"`
	Trace        *TraceSummary       `json:"trace,omitempty"`
	Parameters   []ParameterSummary  `json:"parameters"`
	Elasticities []ElasticitySummary `json:"elasticities"`
}

// SummarizeTrace computes statistics of the trace and of its last
// part.
func SummarizeTrace(trace []float64) (*TraceSummary, error) {
	if len(trace) == 0 {
		return nil, errors.New("trace is empty")
	}
	min, err := stats.Min(trace)
	if err != nil {
		return nil, err
	}
	n := int(float64(len(trace)) * tail)
	if n < 1 {
		n = 1
	}
	last := trace[len(trace)-n:]
	mean, err := stats.Mean(last)
	if err != nil {
		return nil, err
	}
	sd, err := stats.StandardDeviation(last)
	if err != nil {
		return nil, err
	}
	return &TraceSummary{
		Iterations: len(trace),
		Final:      trace[len(trace)-1],
		Min:        min,
		TailMean:   mean,
		TailSD:     sd,
	}, nil
}

// SummarizeParameters returns means and 95% intervals of the normal
// marginals.
func SummarizeParameters(appr *optimize.Approximation) []ParameterSummary {
	res := make([]ParameterSummary, appr.Len())
	for i := range res {
		p := ParameterSummary{
			Name:  appr.Names[i],
			Mean:  appr.Mean[i],
			Lower: appr.Mean[i],
			Upper: appr.Mean[i],
		}
		if appr.SD != nil && appr.SD[i] > 0 {
			d := distuv.Normal{Mu: appr.Mean[i], Sigma: appr.SD[i]}
			p.SD = appr.SD[i]
			p.Lower = d.Quantile(0.025)
			p.Upper = d.Quantile(0.975)
		}
		res[i] = p
	}
	return res
}

// SummarizeElasticities draws parameter vectors from the approximation
// and returns medians and 95% intervals of the non-fixed elasticities.
func SummarizeElasticities(m *model.Model, appr *optimize.Approximation, n int, rng *rand.Rand) ([]ElasticitySummary, error) {
	if n < MinSamples {
		return nil, fmt.Errorf("at least %d samples are required, got %d", MinSamples, n)
	}
	if appr.Len() != m.Len() {
		return nil, errors.New("approximation does not match the model")
	}
	def := m.Definition()
	entries := append(append([]elasticity.Entry(nil), def.Kinetic...), def.Regulatory...)
	values := make([][]float64, len(entries))
	for i := range values {
		values[i] = make([]float64, n)
	}
	for k, x := range appr.Sample(n, rng) {
		ex := m.Elasticity(x)
		for i, e := range entries {
			values[i][k] = ex.At(e.Reaction, e.Metabolite)
		}
	}

	rid, mid := m.Network.ReactionIDs(), m.Network.MetaboliteIDs()
	res := make([]ElasticitySummary, len(entries))
	for i, e := range entries {
		med, err := stats.Median(values[i])
		if err != nil {
			return nil, err
		}
		lo, err := stats.Percentile(values[i], 2.5)
		if err != nil {
			return nil, err
		}
		hi, err := stats.Percentile(values[i], 97.5)
		if err != nil {
			return nil, err
		}
		res[i] = ElasticitySummary{
			Reaction:   rid[e.Reaction],
			Metabolite: mid[e.Metabolite],
			Kind:       m.Template.Kind(e.Reaction, e.Metabolite).String(),
			Median:     med,
			Lower:      lo,
			Upper:      hi,
		}
	}
	return res, nil
}

// Summarize creates the posterior summary for the results.
func Summarize(res *Results, m *model.Model, n int, rng *rand.Rand) (*Summary, error) {
	s := &Summary{
		RunID:      res.RunID,
		Method:     res.Method,
		Parameters: SummarizeParameters(res.Approximation),
	}
	if len(res.Trace) > 0 {
		ts, err := SummarizeTrace(res.Trace)
		if err != nil {
			return nil, err
		}
		s.Trace = ts
	}
	es, err := SummarizeElasticities(m, res.Approximation, n, rng)
	if err != nil {
		return nil, err
	}
	s.Elasticities = es
	return s, nil
}
