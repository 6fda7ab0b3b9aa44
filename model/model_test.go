package model

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/linlog"
	"bitbucket.org/Davydov/bmca/network"
	"bitbucket.org/Davydov/bmca/omics"
)

const (
	smallDiff = 1e-10
	gradDiff  = 1e-4
)

// branchModel has two parallel reactions between m1 and m2.
const branchModel = `{
  "id": "branch",
  "metabolites": [
    {"id": "m1", "compartment": "c"},
    {"id": "m2", "compartment": "c"},
    {"id": "m3", "compartment": "e"}
  ],
  "reactions": [
    {"id": "r1", "metabolites": {"m1": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r2", "metabolites": {"m1": -1, "m2": 1}, "lower_bound": -10, "upper_bound": 10},
    {"id": "r3", "metabolites": {"m2": -1, "m3": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r4", "metabolites": {"m3": -1}, "lower_bound": -10, "upper_bound": 10},
    {"id": "r5", "metabolites": {"m1": -1, "m2": 1}, "lower_bound": 0, "upper_bound": 10}
  ]
}`

const (
	metabolitesCSV = `id,ref,c1,c2
m1,0,0.5,-0.3
m2,0,0.2,0.4
m3,,,
`
	enzymesCSV = `id,c2,ref,c1
r2,0.7,1,1.5
r5,,,
`
	fluxesCSV = `id,ref,c1,c2
r4,2,2.4,1.8
`
)

func table(tst *testing.T, s string) *omics.Table {
	t, err := omics.ReadCSV(strings.NewReader(s))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return t
}

func branchNetwork(tst *testing.T) *network.Network {
	st, err := network.ReadJSON(strings.NewReader(branchModel))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	n, err := network.New(st.Metabolites, st.Reactions, st.S, []float64{2, 1, 2, 2, 1})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return n
}

func observations(tst *testing.T) Observations {
	return Observations{
		Metabolites: table(tst, metabolitesCSV),
		Enzymes:     table(tst, enzymesCSV),
		Fluxes:      table(tst, fluxesCSV),
	}
}

func inputs(tst *testing.T) *Inputs {
	n := branchNetwork(tst)
	t := elasticity.Build(n, rand.New(rand.NewSource(1)))
	in, err := NewInputs(n, t, observations(tst), DefaultConfig("ref"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return in
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewInputs(tst *testing.T) {
	in := inputs(tst)
	if len(in.Conditions) != 2 || in.Conditions[0] != "c1" || in.Conditions[1] != "c2" {
		tst.Fatal("Wrong conditions:", in.Conditions)
	}
	if !equalInts(in.XInds, []int{0, 1}) {
		tst.Error("Wrong measured metabolites:", in.XInds)
	}
	if v := in.XN.At(0, 0); math.Abs(v-0.5*math.Ln2) > smallDiff {
		tst.Error("Wrong metabolite deviation:", v)
	}
	if v := in.XN.At(1, 0); math.Abs(v+0.3*math.Ln2) > smallDiff {
		tst.Error("Wrong metabolite deviation:", v)
	}
	if in.EN.At(0, 0) != 1.5 || in.EN.At(1, 0) != 0.7 {
		tst.Error("Wrong enzyme ratios:", in.EN.Data)
	}
	if !equalInts(in.VInds, []int{3}) {
		tst.Error("Wrong measured fluxes:", in.VInds)
	}
	if v := in.VN.At(0, 0); math.Abs(v-math.Log(1.2)) > smallDiff {
		tst.Error("Wrong flux ratio:", v)
	}
	p := in.Perm
	if !equalInts(p.Measured, []int{1}) || !equalInts(p.Laplace, []int{4}) || !equalInts(p.Zero, []int{0, 2, 3}) {
		tst.Error("Wrong permutation:", p.Measured, p.Laplace, p.Zero)
	}
	if in.Solver().NEffectors() != 2 {
		tst.Error("Wrong number of effectors:", in.Solver().NEffectors())
	}

	s := in.Snapshot()
	if len(s.EMask) != 5 || len(s.EMask[0]) != 3 || s.EMask[3][2] != "kinetic" {
		tst.Error("Wrong mask:", s.EMask)
	}
	if _, err := json.Marshal(s); err != nil {
		tst.Error("Snapshot cannot be serialized:", err)
	}
}

func TestClip(tst *testing.T) {
	n := branchNetwork(tst)
	t := elasticity.Build(n, rand.New(rand.NewSource(1)))
	obs := observations(tst)
	obs.Metabolites.Set(0, 1, 10)
	obs.Metabolites.Set(1, 2, math.Inf(-1))
	in, err := NewInputs(n, t, obs, DefaultConfig("ref"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if in.XN.At(0, 0) != 1.5 {
		tst.Error("Large deviation was not clipped:", in.XN.At(0, 0))
	}
	if in.XN.At(1, 1) != -1.5 {
		tst.Error("Infinite deviation was not clipped:", in.XN.At(1, 1))
	}
}

func TestReversedFlux(tst *testing.T) {
	// r4 written as an uptake carrying negative reference flux
	reversed := strings.Replace(branchModel, `{"m3": -1}`, `{"m3": 1}`, 1)
	st, err := network.ReadJSON(strings.NewReader(reversed))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	n, err := network.New(st.Metabolites, st.Reactions, st.S, []float64{2, 1, 2, -2, 1})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	t := elasticity.Build(n, rand.New(rand.NewSource(1)))
	obs := observations(tst)
	obs.Fluxes = table(tst, "id,ref,c1,c2\nr4,-2,-2.4,-1.8\n")
	in, err := NewInputs(n, t, obs, DefaultConfig("ref"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if v := in.VN.At(0, 0); math.Abs(v-math.Log(1.2)) > smallDiff {
		tst.Error("Wrong flux ratio for reversed reaction:", v)
	}
	if v := in.VN.At(1, 0); math.Abs(v-math.Log(0.9)) > smallDiff {
		tst.Error("Wrong flux ratio for reversed reaction:", v)
	}
}

func TestNewInputsErrors(tst *testing.T) {
	n := branchNetwork(tst)
	t := elasticity.Build(n, rand.New(rand.NewSource(1)))

	obs := observations(tst)
	if _, err := NewInputs(n, t, obs, DefaultConfig("none")); !errors.Is(err, omics.ErrMissing) {
		tst.Error("Missing reference accepted:", err)
	}

	cfg := DefaultConfig("ref")
	cfg.Clip = 0
	if _, err := NewInputs(n, t, obs, cfg); !errors.Is(err, ErrConfig) {
		tst.Error("Invalid config accepted:", err)
	}

	obs.Metabolites = table(tst, "id,ref,c1\nm1,0,1\nm9,0,1\n")
	if _, err := NewInputs(n, t, obs, DefaultConfig("ref")); !errors.Is(err, ErrUnknown) {
		tst.Error("Unknown metabolite accepted:", err)
	}

	obs = observations(tst)
	obs.Enzymes = table(tst, "id,ref,c1\nr2,1,1\n")
	if _, err := NewInputs(n, t, obs, DefaultConfig("ref")); !errors.Is(err, omics.ErrMissing) {
		tst.Error("Missing condition accepted:", err)
	}

	obs = observations(tst)
	obs.Enzymes = table(tst, "id,ref,c1,c2\nr2,1,,1\n")
	if _, err := NewInputs(n, t, obs, DefaultConfig("ref")); err == nil {
		tst.Error("Partially missing enzyme accepted")
	}

	obs = observations(tst)
	obs.Enzymes = table(tst, "id,ref,c1,c2\nr2,1,0,1\n")
	if _, err := NewInputs(n, t, obs, DefaultConfig("ref")); err == nil {
		tst.Error("Zero enzyme ratio accepted")
	}
}

func TestPermutation(tst *testing.T) {
	p, err := NewPermutation(5, []int{3, 1}, []int{4}, []int{0, 2})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	loge := make([]float64, 5)
	p.Assemble([]float64{30, 10}, []float64{40}, loge)
	expected := []float64{0, 10, 0, 30, 40}
	for r := range loge {
		if loge[r] != expected[r] {
			tst.Fatal("Wrong assembly:", loge)
		}
	}
	meas, lap := make([]float64, 2), make([]float64, 1)
	p.Scatter([]float64{1, 2, 3, 4, 5}, meas, lap)
	if meas[0] != 4 || meas[1] != 2 || lap[0] != 5 {
		tst.Error("Wrong scatter:", meas, lap)
	}

	if _, err := NewPermutation(5, []int{3, 1}, []int{3}, []int{0, 2}); err == nil {
		tst.Error("Duplicate reaction accepted")
	}
	if _, err := NewPermutation(5, []int{3, 1}, nil, []int{0, 2}); err == nil {
		tst.Error("Missing reaction accepted")
	}
	if _, err := NewPermutation(3, []int{0, 1}, nil, []int{5}); err == nil {
		tst.Error("Out of range reaction accepted")
	}
}

func TestModelLayout(tst *testing.T) {
	m := New(inputs(tst), rand.New(rand.NewSource(1)))
	// 8 kinetic, 3 regulatory, 2 measured, 2 unmeasured, 4 external
	if m.Len() != 19 {
		tst.Fatal("Wrong number of parameters:", m.Len())
	}
	def := m.Definition()
	sizes := []int{8, 3, 2, 2, 4}
	for i, b := range def.Blocks {
		if b.Size != sizes[i] {
			tst.Errorf("Block %s: size %d, expected %d", b.Name, b.Size, sizes[i])
		}
	}
	if len(def.Names) != 19 || def.Names[11] != "log_e_measured[c1,r2]" || def.Names[18] != "yn[c2,r4]" {
		tst.Error("Wrong names:", def.Names)
	}
	if _, err := json.Marshal(def); err != nil {
		tst.Error("Definition cannot be serialized:", err)
	}
	x := m.Values()
	if x[11] != math.Log(1.5) || x[12] != math.Log(0.7) {
		tst.Error("Measured activities are not initialized from data:", x[11:13])
	}
	if x[13] != 0 || x[14] != 0 {
		tst.Error("Unmeasured activities are not initialized to zero:", x[13:15])
	}
	ex := m.Elasticity(x)
	for r := 0; r < 5; r++ {
		for j := 0; j < 3; j++ {
			if m.Template.Kind(r, j) == elasticity.Kinetic && ex.At(r, j)*m.Template.Sign.At(r, j) <= 0 {
				tst.Errorf("Kinetic entry (%d, %d) has wrong sign: %v", r, j, ex.At(r, j))
			}
			if m.Template.Kind(r, j) == elasticity.None && ex.At(r, j) != 0 {
				tst.Errorf("Fixed entry (%d, %d) is not zero: %v", r, j, ex.At(r, j))
			}
		}
	}
}

func TestIdempotence(tst *testing.T) {
	m1 := New(inputs(tst), rand.New(rand.NewSource(7)))
	m2 := New(inputs(tst), rand.New(rand.NewSource(7)))
	x1, x2 := m1.Values(), m2.Values()
	for i := range x1 {
		if x1[i] != x2[i] {
			tst.Fatal("Different initialization with the same seed")
		}
	}
	l1, err1 := m1.LogPosterior(x1, nil)
	l2, err2 := m2.LogPosterior(x2, nil)
	if err1 != nil || err2 != nil {
		tst.Fatal("Error: ", err1, err2)
	}
	if l1 != l2 {
		tst.Error("Different log posterior:", l1, l2)
	}
	c := m1.Copy().(*Model)
	if l := c.Likelihood(); l != m1.Likelihood() {
		tst.Error("Copy has different likelihood:", l)
	}
}

func TestGradient(tst *testing.T) {
	m := New(inputs(tst), rand.New(rand.NewSource(1)))
	x := m.Values()
	// move away from the non-differentiable Laplace mode
	def := m.Definition()
	unmeasured := def.Blocks[unmeasuredBlock]
	for i := 0; i < unmeasured.Size; i++ {
		x[unmeasured.Offset+i] = 0.05 * float64(i+1)
	}
	grad := make([]float64, len(x))
	if _, err := m.LogPosterior(x, grad); err != nil {
		tst.Fatal("Error: ", err)
	}
	const h = 1e-6
	for i := range x {
		old := x[i]
		x[i] = old + h
		lp, err := m.LogPosterior(x, nil)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		x[i] = old - h
		lm, err := m.LogPosterior(x, nil)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		x[i] = old
		numeric := (lp - lm) / 2 / h
		if math.Abs(numeric-grad[i]) > gradDiff*math.Max(1, math.Abs(numeric)) {
			tst.Errorf("%s: analytic gradient %v, numeric %v", def.Names[i], grad[i], numeric)
		}
	}

	g2 := make([]float64, len(x))
	if err := m.Gradient(x, g2); err != nil {
		tst.Fatal("Error: ", err)
	}
	for i := range g2 {
		if g2[i] != grad[i] {
			tst.Fatal("Gradient differs from LogPosterior gradient")
		}
	}
}

func TestNonFinite(tst *testing.T) {
	m := New(inputs(tst), rand.New(rand.NewSource(1)))
	x := m.Values()
	x[0] = 1000
	_, err := m.LogPosterior(x, make([]float64, len(x)))
	if !errors.Is(err, linlog.ErrNonFinite) && !errors.Is(err, ErrNonFinite) {
		tst.Error("Overflowing elasticity accepted:", err)
	}
	m.GetFloatParameters()[0].Set(1000)
	if l := m.Likelihood(); !math.IsInf(l, -1) {
		tst.Error("Likelihood should be -Inf:", l)
	}
}

func TestSteadyState(tst *testing.T) {
	m := New(inputs(tst), rand.New(rand.NewSource(1)))
	xs, vs, err := m.SteadyState(m.Values())
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	r, c := xs.Dims()
	if r != 2 || c != 3 {
		tst.Error("Wrong metabolite dimensions:", r, c)
	}
	r, c = vs.Dims()
	if r != 2 || c != 5 {
		tst.Error("Wrong flux dimensions:", r, c)
	}
	// mass balance for every condition
	vstar := m.Network.VStar
	for k := 0; k < 2; k++ {
		for i := 0; i < 3; i++ {
			b := 0.0
			for j := 0; j < 5; j++ {
				b += m.Network.S.At(i, j) * vstar[j] * vs.At(k, j)
			}
			if math.Abs(b) > 1e-8 {
				tst.Errorf("Condition %d, metabolite %d: unbalanced (%v)", k, i, b)
			}
		}
	}
}
