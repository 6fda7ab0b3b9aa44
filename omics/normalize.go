package omics

import (
	"fmt"
	"math"
)

// dropReference transposes variables × conditions table into
// conditions × variables and drops the reference condition.
func dropReference(t *Table, ref string) (*Table, error) {
	if _, ok := t.ColIndex(ref); !ok {
		return nil, fmt.Errorf("%w: reference condition %q", ErrMissing, ref)
	}
	d, err := t.DropCol(ref)
	if err != nil {
		return nil, err
	}
	return d.T(), nil
}

// NormalizeMetabolites converts log2 abundances (metabolites ×
// conditions) into natural log deviations from the reference
// condition: (x - x_ref)·ln 2. The result is conditions × metabolites
// without the reference condition.
func NormalizeMetabolites(x *Table, ref string) (*Table, error) {
	r, ok := x.ColIndex(ref)
	if !ok {
		return nil, fmt.Errorf("%w: reference condition %q", ErrMissing, ref)
	}
	dev, err := NewTable(x.Rows, x.Cols, nil)
	if err != nil {
		return nil, err
	}
	for i := range x.Rows {
		xref := x.At(i, r)
		for j := range x.Cols {
			dev.Set(i, j, (x.At(i, j)-xref)*math.Ln2)
		}
	}
	return dropReference(dev, ref)
}

// NormalizeEnzymes returns enzyme activity ratios as conditions ×
// reactions without the reference condition. Input values are ratios
// to the reference state already, unless ratio is true; then they are
// divided by the reference column.
func NormalizeEnzymes(e *Table, ref string, ratio bool) (*Table, error) {
	r, ok := e.ColIndex(ref)
	if !ok {
		return nil, fmt.Errorf("%w: reference condition %q", ErrMissing, ref)
	}
	en, err := NewTable(e.Rows, e.Cols, nil)
	if err != nil {
		return nil, err
	}
	for i := range e.Rows {
		eref := e.At(i, r)
		for j := range e.Cols {
			v := e.At(i, j)
			if ratio {
				v /= eref
			}
			en.Set(i, j, v)
		}
	}
	return dropReference(en, ref)
}

// NormalizeFluxes divides fluxes (reactions × conditions) by the
// reference flux of each reaction and returns conditions × reactions
// without the reference condition.
func NormalizeFluxes(v *Table, ref string, vstar map[string]float64) (*Table, error) {
	vn, err := NewTable(v.Rows, v.Cols, nil)
	if err != nil {
		return nil, err
	}
	for i, id := range v.Rows {
		vs, ok := vstar[id]
		if !ok {
			return nil, fmt.Errorf("%w: no reference flux for %q", ErrMissing, id)
		}
		for j := range v.Cols {
			vn.Set(i, j, v.At(i, j)/vs)
		}
	}
	return dropReference(vn, ref)
}
