// Package linlog solves the linear-logarithmic steady state of a
// metabolic network around a reference operating point.
//
// For elasticities E (reactions × metabolites), enzyme activity ratios
// e and external deviations y the steady state satisfies
//
//	N·diag(v*∘e)·(1 + E·x + Ey·y) = 0
//
// The metabolite deviations x are found as the minimal norm least
// squares solution, flux ratios are v = e∘(1 + E·x + Ey·y).
package linlog

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("linlog")

var (
	// ErrSingular is returned when the steady-state system cannot
	// be factorized or has zero rank.
	ErrSingular = errors.New("singular steady-state system")
	// ErrNonFinite is returned for non-finite inputs or results.
	ErrNonFinite = errors.New("non-finite value in steady-state system")
)

// DefaultRCond is the default relative singular value cutoff.
const DefaultRCond = 1e-10

// Solver holds the network data shared by all conditions.
type Solver struct {
	// N is the stoichiometric matrix (metabolites × reactions).
	N *mat.Dense
	// VStar is the reference flux.
	VStar []float64
	// Ey is reactions × external effectors; may be nil.
	Ey *mat.Dense
	// RCond is the relative cutoff for small singular values.
	RCond float64

	nm, nr, ny int
}

// NewSolver creates a solver.
func NewSolver(n *mat.Dense, vstar []float64, ey *mat.Dense) (*Solver, error) {
	nm, nr := n.Dims()
	if len(vstar) != nr {
		return nil, fmt.Errorf("reference flux length %d, expected %d", len(vstar), nr)
	}
	s := &Solver{
		N:     n,
		VStar: vstar,
		Ey:    ey,
		RCond: DefaultRCond,
		nm:    nm,
		nr:    nr,
	}
	if ey != nil {
		r, c := ey.Dims()
		if r != nr {
			return nil, fmt.Errorf("Ey has %d rows, expected %d", r, nr)
		}
		s.ny = c
	}
	return s, nil
}

// NEffectors returns the number of external effectors.
func (s *Solver) NEffectors() int {
	return s.ny
}

// State is the steady state of one condition. It keeps the
// factorization needed to propagate gradients.
type State struct {
	// X is the metabolite deviation (natural log).
	X []float64
	// V is the flux ratio to the reference flux.
	V []float64

	ex      *mat.Dense
	e, u, w []float64
	// q = u + E·x
	q []float64
	// residual b - A·x
	res []float64

	left, right *mat.Dense
	sinv        []float64
}

// Rank returns the numerical rank of the system.
func (st *State) Rank() int {
	return len(st.sinv)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Solve computes the steady state for one condition.
func (s *Solver) Solve(ex *mat.Dense, e, y []float64) (*State, error) {
	r, c := ex.Dims()
	if r != s.nr || c != s.nm {
		return nil, fmt.Errorf("elasticity matrix is %dx%d, expected %dx%d", r, c, s.nr, s.nm)
	}
	if len(e) != s.nr || len(y) != s.ny {
		return nil, fmt.Errorf("got %d activities and %d effectors, expected %d and %d",
			len(e), len(y), s.nr, s.ny)
	}
	if !finite(e) || !finite(y) || !finite(ex.RawMatrix().Data) {
		return nil, ErrNonFinite
	}

	st := &State{
		ex: ex,
		e:  e,
		u:  make([]float64, s.nr),
		w:  make([]float64, s.nr),
	}
	for i := range st.w {
		st.w[i] = s.VStar[i] * e[i]
		st.u[i] = 1
	}
	if s.Ey != nil {
		var ey mat.VecDense
		ey.MulVec(s.Ey, mat.NewVecDense(s.ny, y))
		for i := range st.u {
			st.u[i] += ey.AtVec(i)
		}
	}

	var nhat mat.Dense
	nhat.Apply(func(i, j int, v float64) float64 {
		return v * st.w[j]
	}, s.N)
	var a mat.Dense
	a.Mul(&nhat, ex)

	var b mat.VecDense
	b.MulVec(&nhat, mat.NewVecDense(s.nr, st.u))
	b.ScaleVec(-1, &b)

	var svd mat.SVD
	if ok := svd.Factorize(&a, mat.SVDThin); !ok {
		return nil, ErrSingular
	}
	values := svd.Values(nil)
	if len(values) == 0 || !(values[0] > 0) {
		return nil, ErrSingular
	}
	cut := s.RCond * values[0]
	for _, sv := range values {
		if sv <= cut {
			break
		}
		st.sinv = append(st.sinv, 1/sv)
	}
	rank := len(st.sinv)
	var uf, vf mat.Dense
	svd.UTo(&uf)
	svd.VTo(&vf)
	st.left = mat.DenseCopyOf(vf.Slice(0, s.nm, 0, rank))
	st.right = mat.DenseCopyOf(uf.Slice(0, s.nm, 0, rank))

	st.X = st.pinv(b.RawVector().Data)

	var ax mat.VecDense
	ax.MulVec(&a, mat.NewVecDense(s.nm, st.X))
	st.res = make([]float64, s.nm)
	for i := range st.res {
		st.res[i] = b.AtVec(i) - ax.AtVec(i)
	}

	var exx mat.VecDense
	exx.MulVec(ex, mat.NewVecDense(s.nm, st.X))
	st.q = make([]float64, s.nr)
	st.V = make([]float64, s.nr)
	for i := range st.V {
		st.q[i] = st.u[i] + exx.AtVec(i)
		st.V[i] = e[i] * st.q[i]
	}
	if !finite(st.X) || !finite(st.V) {
		return nil, ErrNonFinite
	}
	return st, nil
}

// apply computes left·diag(sinv)·rightᵀ·z.
func apply(left, right *mat.Dense, sinv, z []float64) []float64 {
	var t mat.VecDense
	t.MulVec(right.T(), mat.NewVecDense(len(z), z))
	for k, si := range sinv {
		t.SetVec(k, t.AtVec(k)*si)
	}
	var out mat.VecDense
	out.MulVec(left, &t)
	return out.RawVector().Data
}

// pinv computes A⁺·z.
func (st *State) pinv(z []float64) []float64 {
	return apply(st.left, st.right, st.sinv, z)
}

// pinvT computes (A⁺)ᵀ·z.
func (st *State) pinvT(z []float64) []float64 {
	return apply(st.right, st.left, st.sinv, z)
}

// nullProject computes (I - A⁺·A)·z, the projection onto the null
// space of A.
func (st *State) nullProject(z []float64) []float64 {
	var t mat.VecDense
	t.MulVec(st.left.T(), mat.NewVecDense(len(z), z))
	var p mat.VecDense
	p.MulVec(st.left, &t)
	out := make([]float64, len(z))
	for i := range out {
		out[i] = z[i] - p.AtVec(i)
	}
	return out
}

// Backward propagates the gradient of a scalar objective with respect
// to X (gx) and V (gv) back to the solver inputs. Either of gx and gv
// may be nil. The elasticity gradient is added to gEx; gradients with
// respect to the activity ratios e and the external deviations y are
// returned.
func (s *Solver) Backward(st *State, gx, gv []float64, gEx *mat.Dense) (gE, gY []float64) {
	nm, nr := s.nm, s.nr
	g := make([]float64, nm)
	copy(g, gx)
	gE = make([]float64, nr)
	gu := make([]float64, nr)

	if gv != nil {
		for r := 0; r < nr; r++ {
			if gv[r] == 0 {
				continue
			}
			gE[r] += gv[r] * st.q[r]
			ge := gv[r] * st.e[r]
			gu[r] += ge
			for j := 0; j < nm; j++ {
				gEx.Set(r, j, gEx.At(r, j)+ge*st.X[j])
				g[j] += st.ex.At(r, j) * ge
			}
		}
	}

	// x = A⁺b; derivative of the pseudo-inverse for a fixed rank
	lambda := st.pinvT(g)
	apl := st.pinv(lambda)
	aptx := st.pinvT(st.X)
	nullg := st.nullProject(g)

	var nl, nres, naptx mat.VecDense
	nl.MulVec(s.N.T(), mat.NewVecDense(nm, lambda))
	nres.MulVec(s.N.T(), mat.NewVecDense(nm, st.res))
	naptx.MulVec(s.N.T(), mat.NewVecDense(nm, aptx))

	for r := 0; r < nr; r++ {
		a, b, c := nl.AtVec(r), nres.AtVec(r), naptx.AtVec(r)
		gw := 0.0
		for j := 0; j < nm; j++ {
			// (Nᵀ·Ā)[r, j]
			m := -a*st.X[j] + b*apl[j] + c*nullg[j]
			gEx.Set(r, j, gEx.At(r, j)+st.w[r]*m)
			gw += m * st.ex.At(r, j)
		}
		// b = -N·diag(w)·u
		gw -= a * st.u[r]
		gu[r] -= a * st.w[r]
		gE[r] += s.VStar[r] * gw
	}

	gY = make([]float64, s.ny)
	if s.Ey != nil {
		var gy mat.VecDense
		gy.MulVec(s.Ey.T(), mat.NewVecDense(nr, gu))
		copy(gY, gy.RawVector().Data)
	}
	return gE, gY
}

type solveTask struct {
	k int
}

// SolveBatch solves steady states for all conditions in parallel. es
// and ys hold activity ratios and external deviations per condition.
func (s *Solver) SolveBatch(ex *mat.Dense, es, ys [][]float64) ([]*State, error) {
	if len(es) != len(ys) {
		return nil, fmt.Errorf("%d activity vectors for %d effector vectors", len(es), len(ys))
	}
	states := make([]*State, len(es))
	errs := make([]error, len(es))
	tasks := make(chan solveTask, len(es))
	var wg sync.WaitGroup

	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			for t := range tasks {
				states[t.k], errs[t.k] = s.Solve(ex, es[t.k], ys[t.k])
			}
			wg.Done()
		}()
	}
	for k := range es {
		tasks <- solveTask{k}
	}
	close(tasks)
	wg.Wait()

	for k, err := range errs {
		if err != nil {
			log.Debugf("Condition %d: %v", k, err)
			return nil, fmt.Errorf("condition %d: %w", k, err)
		}
	}
	return states, nil
}

// BackwardBatch runs Backward for all conditions in parallel. The
// elasticity gradient summed over conditions is returned together
// with per-condition gradients of e and y.
func (s *Solver) BackwardBatch(states []*State, gxs, gvs [][]float64) (gEx *mat.Dense, gEs, gYs [][]float64) {
	gEs = make([][]float64, len(states))
	gYs = make([][]float64, len(states))
	tasks := make(chan solveTask, len(states))
	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > len(states) {
		nWorkers = len(states)
	}
	acc := make([]*mat.Dense, nWorkers)
	var wg sync.WaitGroup

	for i := 0; i < nWorkers; i++ {
		acc[i] = mat.NewDense(s.nr, s.nm, nil)
		wg.Add(1)
		go func(g *mat.Dense) {
			for t := range tasks {
				var gx, gv []float64
				if gxs != nil {
					gx = gxs[t.k]
				}
				if gvs != nil {
					gv = gvs[t.k]
				}
				gEs[t.k], gYs[t.k] = s.Backward(states[t.k], gx, gv, g)
			}
			wg.Done()
		}(acc[i])
	}
	for k := range states {
		tasks <- solveTask{k}
	}
	close(tasks)
	wg.Wait()

	gEx = mat.NewDense(s.nr, s.nm, nil)
	for _, g := range acc {
		gEx.Add(gEx, g)
	}
	return gEx, gEs, gYs
}
