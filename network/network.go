// Package network describes a stoichiometric metabolic network
// together with its reference flux distribution.
package network

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("network")

// Extracellular is the compartment id of the medium.
const Extracellular = "e"

// ErrInvalid is returned when network invariants are violated.
var ErrInvalid = errors.New("invalid network")

// Metabolite is a network species.
type Metabolite struct {
	ID          string
	Compartment string
}

// Reaction is a network reaction.
type Reaction struct {
	ID string
	// Compartments is a sorted set of the compartments of the
	// reaction metabolites.
	Compartments []string
	// Boundary reactions exchange a single metabolite with the
	// environment.
	Boundary   bool
	LowerBound float64
	UpperBound float64
	GPR        GPR
}

// Reversible returns true if the flux bounds allow both directions.
func (r *Reaction) Reversible() bool {
	return r.LowerBound < 0 && r.UpperBound > 0
}

// InCompartment returns true if any of the reaction metabolites is
// in compartment c.
func (r *Reaction) InCompartment(c string) bool {
	for _, rc := range r.Compartments {
		if rc == c {
			return true
		}
	}
	return false
}

// Transport returns true for boundary reactions and for reactions
// touching the extracellular compartment.
func (r *Reaction) Transport() bool {
	return r.Boundary || r.InCompartment(Extracellular)
}

// Network is a metabolic network with the reference flux.
type Network struct {
	Metabolites []Metabolite
	Reactions   []Reaction
	// S is the stoichiometric matrix (metabolites × reactions).
	S *mat.Dense
	// VStar is the reference flux; absolute values, one per
	// reaction.
	VStar []float64
	// Flipped marks reactions whose direction was reversed to make
	// the reference flux non-negative.
	Flipped []bool

	metIndex map[string]int
	rxnIndex map[string]int
}

// New creates a network and validates it. Reference flux is sign
// normalized: the stoichiometric column of every reaction with a
// negative reference flux is flipped, so that v* is non-negative and
// S·v* is unchanged. New takes ownership of its arguments.
func New(mets []Metabolite, rxns []Reaction, s *mat.Dense, vstar []float64) (*Network, error) {
	n := &Network{
		Metabolites: mets,
		Reactions:   rxns,
		S:           s,
		VStar:       make([]float64, len(vstar)),
		Flipped:     make([]bool, len(vstar)),
	}
	copy(n.VStar, vstar)
	if err := n.index(); err != nil {
		return nil, err
	}
	if s != nil {
		nm, nr := s.Dims()
		if nm == len(mets) && nr == len(rxns) && nr == len(vstar) {
			for j, v := range vstar {
				if v < 0 {
					for i := 0; i < nm; i++ {
						s.Set(i, j, -s.At(i, j))
					}
					n.VStar[j] = -v
					n.Flipped[j] = true
					lb, ub := rxns[j].LowerBound, rxns[j].UpperBound
					rxns[j].LowerBound, rxns[j].UpperBound = -ub, -lb
				}
			}
		}
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// index builds the id lookup maps.
func (n *Network) index() error {
	n.metIndex = make(map[string]int, len(n.Metabolites))
	for i, m := range n.Metabolites {
		if _, ok := n.metIndex[m.ID]; ok {
			return fmt.Errorf("%w: duplicate metabolite %q", ErrInvalid, m.ID)
		}
		n.metIndex[m.ID] = i
	}
	n.rxnIndex = make(map[string]int, len(n.Reactions))
	for i, r := range n.Reactions {
		if _, ok := n.rxnIndex[r.ID]; ok {
			return fmt.Errorf("%w: duplicate reaction %q", ErrInvalid, r.ID)
		}
		n.rxnIndex[r.ID] = i
	}
	return nil
}

// Validate checks the network invariants.
func (n *Network) Validate() error {
	if len(n.Metabolites) == 0 || len(n.Reactions) == 0 {
		return fmt.Errorf("%w: no metabolites or reactions", ErrInvalid)
	}
	if n.S == nil {
		return fmt.Errorf("%w: no stoichiometric matrix", ErrInvalid)
	}
	nm, nr := n.S.Dims()
	if nm != len(n.Metabolites) || nr != len(n.Reactions) {
		return fmt.Errorf("%w: stoichiometric matrix is %dx%d, expected %dx%d",
			ErrInvalid, nm, nr, len(n.Metabolites), len(n.Reactions))
	}
	if len(n.VStar) != nr {
		return fmt.Errorf("%w: %d reference fluxes for %d reactions", ErrInvalid, len(n.VStar), nr)
	}
	for i, v := range n.VStar {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: reference flux of %s is %v", ErrInvalid, n.Reactions[i].ID, v)
		}
	}
	for _, r := range n.Reactions {
		if len(r.Compartments) == 0 {
			return fmt.Errorf("%w: reaction %s has no compartment", ErrInvalid, r.ID)
		}
	}
	return nil
}

// ReferenceFlux returns the reference flux by reaction id in the
// original reaction direction.
func (n *Network) ReferenceFlux() map[string]float64 {
	ref := make(map[string]float64, len(n.Reactions))
	for j, r := range n.Reactions {
		ref[r.ID] = n.VStar[j]
		if n.Flipped[j] {
			ref[r.ID] = -n.VStar[j]
		}
	}
	return ref
}

// NMetabolites returns the number of metabolites.
func (n *Network) NMetabolites() int {
	return len(n.Metabolites)
}

// NReactions returns the number of reactions.
func (n *Network) NReactions() int {
	return len(n.Reactions)
}

// MetaboliteIndex returns the row of metabolite id in S.
func (n *Network) MetaboliteIndex(id string) (int, bool) {
	i, ok := n.metIndex[id]
	return i, ok
}

// ReactionIndex returns the column of reaction id in S.
func (n *Network) ReactionIndex(id string) (int, bool) {
	i, ok := n.rxnIndex[id]
	return i, ok
}

// MetaboliteIDs returns metabolite ids in the canonical order.
func (n *Network) MetaboliteIDs() []string {
	ids := make([]string, len(n.Metabolites))
	for i, m := range n.Metabolites {
		ids[i] = m.ID
	}
	return ids
}

// ReactionIDs returns reaction ids in the canonical order.
func (n *Network) ReactionIDs() []string {
	ids := make([]string, len(n.Reactions))
	for i, r := range n.Reactions {
		ids[i] = r.ID
	}
	return ids
}

// GPRs returns the parsed gene rules in the canonical reaction order.
func (n *Network) GPRs() []GPR {
	g := make([]GPR, len(n.Reactions))
	for i, r := range n.Reactions {
		g[i] = r.GPR
	}
	return g
}

// Genes returns sorted list of all genes of the network.
func (n *Network) Genes() []string {
	var all GPR
	for _, r := range n.Reactions {
		all = append(all, r.GPR...)
	}
	return all.Genes()
}

// Produces returns true if reaction j has at least one product.
func (n *Network) Produces(j int) bool {
	for i := range n.Metabolites {
		if n.S.At(i, j) > 0 {
			return true
		}
	}
	return false
}

// BalanceResidual returns max |S·v*|. Reference flux should be a
// steady state, so this value is expected to be small.
func (n *Network) BalanceResidual() float64 {
	var sv mat.VecDense
	sv.MulVec(n.S, mat.NewVecDense(len(n.VStar), n.VStar))
	max := 0.0
	for i := 0; i < sv.Len(); i++ {
		max = math.Max(max, math.Abs(sv.AtVec(i)))
	}
	return max
}

// compartments computes sorted compartment set of the reaction
// given its stoichiometric column.
func compartments(mets []Metabolite, stoich map[int]float64) []string {
	set := make(map[string]bool)
	for i := range stoich {
		set[mets[i].Compartment] = true
	}
	res := make([]string, 0, len(set))
	for c := range set {
		res = append(res, c)
	}
	sort.Strings(res)
	return res
}
