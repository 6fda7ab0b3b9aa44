package archive

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/model"
	"bitbucket.org/Davydov/bmca/network"
	"bitbucket.org/Davydov/bmca/omics"
	"bitbucket.org/Davydov/bmca/optimize"
)

const smallDiff = 1e-6

const chainModel = `{
  "id": "chain",
  "metabolites": [
    {"id": "m1", "compartment": "c"},
    {"id": "m2", "compartment": "c"}
  ],
  "reactions": [
    {"id": "r1", "metabolites": {"m1": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r2", "metabolites": {"m1": -1, "m2": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r3", "metabolites": {"m2": -1}, "lower_bound": 0, "upper_bound": 10}
  ]
}`

func chain(tst *testing.T) *model.Model {
	st, err := network.ReadJSON(strings.NewReader(chainModel))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	n, err := network.New(st.Metabolites, st.Reactions, st.S, []float64{1, 1, 1})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	conds := []string{"ref", "a", "b"}
	x, err := omics.NewTable([]string{"m1", "m2"}, conds, []float64{0, 0.3, -0.2, 0, 0.1, 0.2})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	e, err := omics.NewTable([]string{"r2"}, conds, []float64{1, 1.2, 0.9})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	t := elasticity.Build(n, rand.New(rand.NewSource(1)))
	in, err := model.NewInputs(n, t, model.Observations{Metabolites: x, Enzymes: e}, model.DefaultConfig("ref"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return model.New(in, rand.New(rand.NewSource(1)))
}

func TestJSONGz(tst *testing.T) {
	m := chain(tst)
	appr, err := optimize.NewApproximation(m.Definition().Names, m.Values(), nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	res := NewResults("advi", m.Definition(), appr, []float64{3, 2, math.NaN(), 1})
	if len(res.Trace) != 3 {
		tst.Error("Non-finite trace values were not dropped:", res.Trace)
	}
	fileName := filepath.Join(tst.TempDir(), "results.json.gz")
	if err := WriteJSONGz(fileName, res); err != nil {
		tst.Fatal("Error: ", err)
	}
	var read Results
	if err := ReadJSONGz(fileName, &read); err != nil {
		tst.Fatal("Error: ", err)
	}
	if read.RunID != res.RunID || read.Method != "advi" || len(read.Trace) != 3 {
		tst.Error("Wrong results:", read.RunID, read.Method, read.Trace)
	}
	if len(read.Approximation.Mean) != m.Len() || read.Approximation.Mean[0] != m.Values()[0] {
		tst.Error("Wrong approximation")
	}
	if len(read.Definition.Blocks) != 5 {
		tst.Error("Wrong definition:", read.Definition.Blocks)
	}

	snapName := filepath.Join(tst.TempDir(), "data.json.gz")
	if err := WriteJSONGz(snapName, m.Snapshot()); err != nil {
		tst.Fatal("Error: ", err)
	}
	var snap model.Snapshot
	if err := ReadJSONGz(snapName, &snap); err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(snap.Conditions) != 2 || len(snap.XN) != 2 || snap.VStar[1] != 1 {
		tst.Error("Wrong snapshot:", snap.Conditions, snap.XN, snap.VStar)
	}

	if err := ReadJSONGz(filepath.Join(tst.TempDir(), "missing.gz"), &read); err == nil {
		tst.Error("Missing file accepted")
	}
}

func TestSummarizeTrace(tst *testing.T) {
	trace := make([]float64, 100)
	for i := range trace {
		trace[i] = 100 - float64(i)
	}
	s, err := SummarizeTrace(trace)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if s.Iterations != 100 || s.Final != 1 || s.Min != 1 {
		tst.Error("Wrong trace summary:", s)
	}
	// last ten values: 10..1
	if math.Abs(s.TailMean-5.5) > smallDiff {
		tst.Error("Wrong tail mean:", s.TailMean)
	}
	if _, err := SummarizeTrace(nil); err == nil {
		tst.Error("Empty trace accepted")
	}
}

func TestSummarize(tst *testing.T) {
	m := chain(tst)
	sd := make([]float64, m.Len())
	for i := range sd {
		sd[i] = 0.1
	}
	appr, err := optimize.NewApproximation(m.Definition().Names, m.Values(), sd)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	res := NewResults("advi", m.Definition(), appr, []float64{5, 4, 3})
	s, err := Summarize(res, m, 200, rand.New(rand.NewSource(1)))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(s.Parameters) != m.Len() {
		tst.Fatal("Wrong number of parameters:", len(s.Parameters))
	}
	p := s.Parameters[0]
	if math.Abs(p.Upper-p.Mean-1.959964*0.1) > smallDiff || math.Abs(p.Mean-p.Lower-1.959964*0.1) > smallDiff {
		tst.Error("Wrong interval:", p)
	}
	def := m.Definition()
	if len(s.Elasticities) != len(def.Kinetic)+len(def.Regulatory) {
		tst.Fatal("Wrong number of elasticities:", len(s.Elasticities))
	}
	for _, e := range s.Elasticities {
		if e.Lower > e.Median || e.Median > e.Upper {
			tst.Error("Wrong elasticity interval:", e)
		}
		if e.Kind == "kinetic" && e.Reaction == "r2" && e.Metabolite == "m1" && e.Median <= 0 {
			tst.Error("Substrate elasticity should be positive:", e)
		}
	}
	if s.Trace == nil || s.Trace.Final != 3 {
		tst.Error("Wrong trace summary:", s.Trace)
	}
	if _, err := SummarizeElasticities(m, appr, 10, rand.New(rand.NewSource(1))); err == nil {
		tst.Error("Too few samples accepted")
	}
}

func TestPlotTrace(tst *testing.T) {
	fileName := filepath.Join(tst.TempDir(), "trace.png")
	if err := PlotTrace(fileName, "-ELBO", []float64{10, 5, 3, 2.5, 2.4}); err != nil {
		tst.Fatal("Error: ", err)
	}
	fi, err := os.Stat(fileName)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if fi.Size() == 0 {
		tst.Error("Empty plot")
	}
	if err := PlotTrace(fileName, "-ELBO", nil); err == nil {
		tst.Error("Empty trace accepted")
	}
}
