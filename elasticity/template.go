// Package elasticity builds the structural template of the elasticity
// matrix: which entries are kinetic, which are regulatory, their
// signs and the initial guess, and the external effector matrix.
package elasticity

import (
	"math/rand"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/bmca/network"
)

var log = logging.MustGetLogger("elasticity")

// Transport is the synthetic compartment of exchange and transport
// reactions.
const Transport = "t"

// Kind is the kind of an elasticity matrix entry.
type Kind uint8

const (
	// None entries are fixed at zero.
	None Kind = iota
	// Kinetic entries correspond to reaction substrates and products.
	Kinetic
	// Regulatory entries are allosteric effects within a compartment.
	Regulatory
)

func (k Kind) String() string {
	switch k {
	case Kinetic:
		return "kinetic"
	case Regulatory:
		return "regulatory"
	}
	return "none"
}

// Entry is a non-zero entry of the elasticity template.
type Entry struct {
	Reaction   int
	Metabolite int
	// Sign of the kinetic entry; zero for regulatory entries.
	Sign float64
}

// Template is the elasticity structure of a network.
type Template struct {
	NR, NM int
	// Kinds is row-major reactions × metabolites.
	Kinds []Kind
	// Sign is the expected sign of the entries (-sign(S)).
	Sign *mat.Dense
	// Guess is the initial elasticity matrix.
	Guess *mat.Dense
	// Ey is reactions × external effectors, nil if there are no
	// effectors.
	Ey *mat.Dense
	// Effectors are the ids of medium boundary reactions used as
	// external effectors.
	Effectors []string
	// Compartments are the effective reaction compartments.
	Compartments [][]string
}

// ReactionCompartments returns effective compartments of reactions:
// transport reactions are additionally placed into the Transport
// compartment, which is shared with the extracellular metabolites.
func ReactionCompartments(n *network.Network) [][]string {
	rc := make([][]string, n.NReactions())
	for j := range n.Reactions {
		r := &n.Reactions[j]
		rc[j] = append([]string{}, r.Compartments...)
		if r.Transport() {
			rc[j] = append([]string{Transport}, rc[j]...)
		}
	}
	return rc
}

// compartmentMatch returns true if a metabolite from compartment mc
// can regulate a reaction located in rcs.
func compartmentMatch(mc string, rcs []string) bool {
	for _, rc := range rcs {
		if rc == mc || (rc == Transport && mc == network.Extracellular) {
			return true
		}
	}
	return false
}

// medium returns true for boundary reactions which can import their
// metabolite into the network.
func medium(n *network.Network, j int) bool {
	r := &n.Reactions[j]
	if !r.Boundary {
		return false
	}
	if n.Produces(j) {
		return r.UpperBound > 0
	}
	return r.LowerBound < 0
}

// Build constructs the template. Structure depends on the network
// only, rng is used to scale the initial guess by U(0.1, 0.9).
func Build(n *network.Network, rng *rand.Rand) *Template {
	nm, nr := n.S.Dims()
	t := &Template{
		NR:           nr,
		NM:           nm,
		Kinds:        make([]Kind, nr*nm),
		Sign:         mat.NewDense(nr, nm, nil),
		Guess:        mat.NewDense(nr, nm, nil),
		Compartments: ReactionCompartments(n),
	}

	nKinetic, nRegulatory := 0, 0
	for r := 0; r < nr; r++ {
		rxn := &n.Reactions[r]
		rev := rxn.Reversible()
		for m := 0; m < nm; m++ {
			s := n.S.At(m, r)
			switch {
			case s != 0:
				t.Kinds[r*nm+m] = Kinetic
				sign := 1.0
				if s > 0 {
					sign = -1
				}
				t.Sign.Set(r, m, sign)
				// irreversible reactions are not sensitive to products
				if rev || (rxn.UpperBound > 0 && s < 0) || (rxn.LowerBound < 0 && s > 0) {
					t.Guess.Set(r, m, sign)
				}
				nKinetic++
			case compartmentMatch(n.Metabolites[m].Compartment, t.Compartments[r]):
				t.Kinds[r*nm+m] = Regulatory
				nRegulatory++
			}
		}
	}
	for i := 0; i < nr; i++ {
		for j := 0; j < nm; j++ {
			t.Guess.Set(i, j, t.Guess.At(i, j)*(0.1+0.8*rng.Float64()))
		}
	}

	var effectors []int
	for j := range n.Reactions {
		if medium(n, j) {
			effectors = append(effectors, j)
			t.Effectors = append(t.Effectors, n.Reactions[j].ID)
		}
	}
	if len(effectors) > 0 {
		t.Ey = mat.NewDense(nr, len(effectors), nil)
		for k, j := range effectors {
			if n.Produces(j) {
				t.Ey.Set(j, k, 1)
			} else {
				t.Ey.Set(j, k, -1)
			}
		}
	}

	log.Infof("Elasticity template: %d kinetic, %d regulatory entries, %d external effectors",
		nKinetic, nRegulatory, len(t.Effectors))
	return t
}

// Kind returns the kind of entry (r, m).
func (t *Template) Kind(r, m int) Kind {
	return t.Kinds[r*t.NM+m]
}

// Entries returns entries of the given kind in row-major order.
func (t *Template) Entries(k Kind) []Entry {
	var res []Entry
	for r := 0; r < t.NR; r++ {
		for m := 0; m < t.NM; m++ {
			if t.Kinds[r*t.NM+m] == k {
				e := Entry{Reaction: r, Metabolite: m}
				if k == Kinetic {
					e.Sign = t.Sign.At(r, m)
				}
				res = append(res, e)
			}
		}
	}
	return res
}

// NEffectors returns the number of external effectors.
func (t *Template) NEffectors() int {
	return len(t.Effectors)
}

// Mask returns entry kind names, reactions × metabolites.
func (t *Template) Mask() [][]string {
	mask := make([][]string, t.NR)
	for r := range mask {
		mask[r] = make([]string, t.NM)
		for m := range mask[r] {
			mask[r][m] = t.Kind(r, m).String()
		}
	}
	return mask
}
