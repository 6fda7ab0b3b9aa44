package model

import (
	"fmt"
	"sort"
)

// Permutation maps per-block enzyme log activities (measured,
// Laplace-eligible and zero) to the canonical reaction order.
type Permutation struct {
	Measured []int `json:"measured"`
	Laplace  []int `json:"laplace"`
	Zero     []int `json:"zero"`

	// position of every reaction in the concatenated blocks
	inverse []int
}

// NewPermutation creates a permutation from reaction indices of the
// three blocks. The blocks have to cover every reaction exactly once.
func NewPermutation(nr int, measured, laplace, zero []int) (*Permutation, error) {
	p := &Permutation{
		Measured: measured,
		Laplace:  laplace,
		Zero:     zero,
	}
	order := p.order()
	if len(order) != nr {
		return nil, fmt.Errorf("permutation covers %d reactions, expected %d", len(order), nr)
	}
	idx := make([]int, nr)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return order[idx[a]] < order[idx[b]]
	})
	for r, i := range idx {
		if order[i] != r {
			return nil, fmt.Errorf("permutation is not a bijection at reaction %d", r)
		}
	}
	p.inverse = idx
	return p, nil
}

func (p *Permutation) order() []int {
	order := make([]int, 0, len(p.Measured)+len(p.Laplace)+len(p.Zero))
	order = append(order, p.Measured...)
	order = append(order, p.Laplace...)
	return append(order, p.Zero...)
}

// Len returns the number of reactions.
func (p *Permutation) Len() int {
	return len(p.inverse)
}

// Assemble fills loge (canonical order) from the measured and Laplace
// blocks; zero block reactions get 0.
func (p *Permutation) Assemble(measured, laplace, loge []float64) {
	nm, nl := len(p.Measured), len(p.Laplace)
	for r, i := range p.inverse {
		switch {
		case i < nm:
			loge[r] = measured[i]
		case i < nm+nl:
			loge[r] = laplace[i-nm]
		default:
			loge[r] = 0
		}
	}
}

// Scatter adds the canonical order gradient g to the block
// gradients.
func (p *Permutation) Scatter(g, measured, laplace []float64) {
	for i, r := range p.Measured {
		measured[i] += g[r]
	}
	for i, r := range p.Laplace {
		laplace[i] += g[r]
	}
}
