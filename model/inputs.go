package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/linlog"
	"bitbucket.org/Davydov/bmca/network"
	"bitbucket.org/Davydov/bmca/omics"
)

// ErrUnknown is returned for observation ids absent from the network.
var ErrUnknown = errors.New("unknown id")

// minFlux and maxFlux bound flux ratios before taking the logarithm.
const (
	minFlux = 1e-8
	maxFlux = 1e8
)

// Observations are the raw observation tables, variables ×
// conditions.
type Observations struct {
	// Metabolites are log2 abundances.
	Metabolites *omics.Table
	// Enzymes are activity ratios (or raw activities with
	// Config.RatioEnzymes).
	Enzymes *omics.Table
	// Fluxes are optional absolute fluxes.
	Fluxes *omics.Table
	// ReferenceFlux is the signed reference flux used to normalize
	// Fluxes; the network reference flux is used if nil.
	ReferenceFlux map[string]float64
}

// Inputs are the immutable model inputs.
type Inputs struct {
	Network  *network.Network
	Template *elasticity.Template
	Config   Config
	// Conditions are the non-reference conditions.
	Conditions []string

	// XN are clipped natural log metabolite deviations, conditions ×
	// measured metabolites; XInds are the network indices of the
	// columns.
	XN    *omics.Table
	XInds []int
	// EN are enzyme activity ratios, conditions × measured
	// reactions.
	EN *omics.Table
	// VN are clipped log flux ratios, conditions × measured
	// reactions; nil without flux data.
	VN    *omics.Table
	VInds []int

	Perm *Permutation

	solver *linlog.Solver
}

// selectConditions checks reference presence and orders columns as
// conditions.
func selectConditions(t *omics.Table, name string, conditions []string) (*omics.Table, error) {
	s, err := t.Select(nil, conditions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// measuredRows returns ids of rows with finite values. Rows without
// finite values are unmeasured; partially measured rows are an error
// unless allowInf is set and the other values are infinite.
func measuredRows(t *omics.Table, name string, allowInf bool) ([]string, error) {
	res := []string{}
	for i, id := range t.Rows {
		nFinite, nNaN := 0, 0
		for j := range t.Cols {
			switch v := t.At(i, j); {
			case math.IsNaN(v):
				nNaN++
			case !math.IsInf(v, 0):
				nFinite++
			}
		}
		switch {
		case nFinite == 0:
			log.Infof("%s %s: no finite values, treating as unmeasured", name, id)
		case nFinite == len(t.Cols) || (allowInf && nNaN == 0):
			res = append(res, id)
		default:
			return nil, fmt.Errorf("%s %s: missing values in some conditions", name, id)
		}
	}
	return res, nil
}

// NewInputs validates observations against the network and builds
// the model inputs.
func NewInputs(n *network.Network, t *elasticity.Template, obs Observations, cfg Config) (*Inputs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs.Metabolites == nil || obs.Enzymes == nil {
		return nil, errors.New("metabolite and enzyme tables are required")
	}
	in := &Inputs{
		Network:  n,
		Template: t,
		Config:   cfg,
	}
	if _, ok := obs.Metabolites.ColIndex(cfg.Reference); !ok {
		return nil, fmt.Errorf("metabolites: %w: reference condition %q", omics.ErrMissing, cfg.Reference)
	}
	conditions := obs.Metabolites.Cols
	for _, c := range conditions {
		if c != cfg.Reference {
			in.Conditions = append(in.Conditions, c)
		}
	}
	if len(in.Conditions) == 0 {
		return nil, errors.New("no conditions besides the reference")
	}

	if err := in.metabolites(obs.Metabolites); err != nil {
		return nil, err
	}
	measured, err := in.enzymes(obs.Enzymes, conditions)
	if err != nil {
		return nil, err
	}
	if obs.Fluxes != nil && !obs.Fluxes.Empty() {
		if err := in.fluxes(obs.Fluxes, obs.ReferenceFlux, conditions); err != nil {
			return nil, err
		}
	}

	isMeasured := make([]bool, n.NReactions())
	for _, r := range measured {
		isMeasured[r] = true
	}
	var laplace, zero []int
	for r := range n.Reactions {
		switch {
		case isMeasured[r]:
		case !n.Reactions[r].Transport() && len(n.Reactions[r].Compartments) == 1:
			laplace = append(laplace, r)
		default:
			zero = append(zero, r)
		}
	}
	in.Perm, err = NewPermutation(n.NReactions(), measured, laplace, zero)
	if err != nil {
		return nil, err
	}
	log.Infof("Enzymes: %d measured, %d unmeasured, %d fixed", len(measured), len(laplace), len(zero))

	in.solver, err = linlog.NewSolver(n.S, n.VStar, t.Ey)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Inputs) metabolites(x *omics.Table) error {
	n := in.Network
	for _, id := range x.Rows {
		if _, ok := n.MetaboliteIndex(id); !ok {
			return fmt.Errorf("metabolites: %w: %q", ErrUnknown, id)
		}
	}
	ids, err := measuredRows(x, "Metabolite", true)
	if err != nil {
		return err
	}
	sel, err := x.Select(ids, nil)
	if err != nil {
		return err
	}
	xn, err := omics.NormalizeMetabolites(sel, in.Config.Reference)
	if err != nil {
		return err
	}
	xn, err = xn.Select(in.Conditions, nil)
	if err != nil {
		return err
	}
	for i, c := range xn.Rows {
		for j, id := range xn.Cols {
			v := xn.At(i, j)
			if math.IsNaN(v) {
				return fmt.Errorf("metabolite %s in %s: deviation from the reference is undefined", id, c)
			}
			xn.Set(i, j, clip(v, in.Config.Clip))
		}
	}
	in.XN = xn
	in.XInds = make([]int, len(ids))
	for k, id := range ids {
		in.XInds[k], _ = n.MetaboliteIndex(id)
	}
	log.Infof("Metabolites: %d measured in %d conditions", len(ids), len(in.Conditions))
	return nil
}

// enzymes returns network indices of measured reactions.
func (in *Inputs) enzymes(e *omics.Table, conditions []string) ([]int, error) {
	n := in.Network
	e, err := selectConditions(e, "enzymes", conditions)
	if err != nil {
		return nil, err
	}
	for _, id := range e.Rows {
		if _, ok := n.ReactionIndex(id); !ok {
			return nil, fmt.Errorf("enzymes: %w: %q", ErrUnknown, id)
		}
	}
	ids, err := measuredRows(e, "Enzyme", false)
	if err != nil {
		return nil, err
	}
	// canonical reaction order
	isMeasured := make(map[string]bool, len(ids))
	for _, id := range ids {
		isMeasured[id] = true
	}
	var inds []int
	for r, rxn := range n.Reactions {
		if isMeasured[rxn.ID] {
			inds = append(inds, r)
		}
	}
	ordered := make([]string, len(inds))
	for k, r := range inds {
		ordered[k] = n.Reactions[r].ID
	}
	sel, err := e.Select(ordered, nil)
	if err != nil {
		return nil, err
	}
	en, err := omics.NormalizeEnzymes(sel, in.Config.Reference, in.Config.RatioEnzymes)
	if err != nil {
		return nil, err
	}
	en, err = en.Select(in.Conditions, nil)
	if err != nil {
		return nil, err
	}
	for i, c := range en.Rows {
		for j, r := range en.Cols {
			if v := math.Log(en.At(i, j)); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("enzyme %s in %s: activity ratio %v has no finite logarithm", r, c, en.At(i, j))
			}
		}
	}
	in.EN = en
	return inds, nil
}

func (in *Inputs) fluxes(v *omics.Table, ref map[string]float64, conditions []string) error {
	n := in.Network
	v, err := selectConditions(v, "fluxes", conditions)
	if err != nil {
		return err
	}
	if ref == nil {
		ref = n.ReferenceFlux()
	}
	for _, id := range v.Rows {
		if _, ok := n.ReactionIndex(id); !ok {
			return fmt.Errorf("fluxes: %w: %q", ErrUnknown, id)
		}
	}
	ids, err := measuredRows(v, "Flux", false)
	if err != nil {
		return err
	}
	sel, err := v.Select(ids, nil)
	if err != nil {
		return err
	}
	vn, err := omics.NormalizeFluxes(sel, in.Config.Reference, ref)
	if err != nil {
		return err
	}
	vn, err = vn.Select(in.Conditions, nil)
	if err != nil {
		return err
	}
	for i := range vn.Rows {
		for j := range vn.Cols {
			vc := math.Max(minFlux, math.Min(maxFlux, vn.At(i, j)))
			vn.Set(i, j, clip(math.Log(vc), in.Config.Clip))
		}
	}
	in.VN = vn
	in.VInds = make([]int, len(ids))
	for k, id := range ids {
		in.VInds[k], _ = n.ReactionIndex(id)
	}
	log.Infof("Fluxes: %d measured", len(ids))
	return nil
}

// Solver returns the steady-state solver.
func (in *Inputs) Solver() *linlog.Solver {
	return in.solver
}

// Snapshot contains the exact model input tensors.
type Snapshot struct {
	Reference   string       `json:"reference"`
	Conditions  []string     `json:"conditions"`
	Metabolites []string     `json:"metabolites"`
	Reactions   []string     `json:"reactions"`
	Effectors   []string     `json:"effectors"`
	N           [][]float64  `json:"n"`
	VStar       []float64    `json:"vstar"`
	Ey          [][]float64  `json:"ey,omitempty"`
	EMask       [][]string   `json:"emask"`
	Guess       [][]float64  `json:"guess"`
	XN          [][]float64  `json:"xn"`
	XInds       []int        `json:"xInds"`
	EN          [][]float64  `json:"en"`
	VN          [][]float64  `json:"vn,omitempty"`
	VInds       []int        `json:"vInds,omitempty"`
	Permutation *Permutation `json:"permutation"`
}

func rows(m mat.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	res := make([][]float64, r)
	for i := range res {
		res[i] = make([]float64, c)
		for j := range res[i] {
			res[i][j] = m.At(i, j)
		}
	}
	return res
}

func tableRows(t *omics.Table) [][]float64 {
	if t == nil || t.Empty() {
		return nil
	}
	return rows(t.Data)
}

// Snapshot returns the input tensors.
func (in *Inputs) Snapshot() *Snapshot {
	t := in.Template
	s := &Snapshot{
		Reference:   in.Config.Reference,
		Conditions:  in.Conditions,
		Metabolites: in.Network.MetaboliteIDs(),
		Reactions:   in.Network.ReactionIDs(),
		Effectors:   t.Effectors,
		N:           rows(in.Network.S),
		VStar:       in.Network.VStar,
		Guess:       rows(t.Guess),
		XN:          tableRows(in.XN),
		XInds:       in.XInds,
		EN:          tableRows(in.EN),
		VN:          tableRows(in.VN),
		VInds:       in.VInds,
		Permutation: in.Perm,
	}
	if t.Ey != nil {
		s.Ey = rows(t.Ey)
	}
	s.EMask = t.Mask()
	return s
}
