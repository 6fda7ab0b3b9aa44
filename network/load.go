package network

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// jsonModel is the subset of the COBRA JSON model format used here.
type jsonModel struct {
	ID          string `json:"id"`
	Metabolites []struct {
		ID          string `json:"id"`
		Compartment string `json:"compartment"`
	} `json:"metabolites"`
	Reactions []struct {
		ID          string             `json:"id"`
		Metabolites map[string]float64 `json:"metabolites"`
		LowerBound  *float64           `json:"lower_bound"`
		UpperBound  *float64           `json:"upper_bound"`
		Rule        string             `json:"gene_reaction_rule"`
	} `json:"reactions"`
}

// Structure is a network without the reference flux.
type Structure struct {
	ID          string
	Metabolites []Metabolite
	Reactions   []Reaction
	S           *mat.Dense
}

// ReadJSON reads network structure in the COBRA JSON format.
func ReadJSON(rd io.Reader) (*Structure, error) {
	var jm jsonModel
	dec := json.NewDecoder(rd)
	if err := dec.Decode(&jm); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if len(jm.Metabolites) == 0 || len(jm.Reactions) == 0 {
		return nil, fmt.Errorf("%w: model has no metabolites or reactions", ErrInvalid)
	}

	st := &Structure{
		ID:          jm.ID,
		Metabolites: make([]Metabolite, len(jm.Metabolites)),
		Reactions:   make([]Reaction, len(jm.Reactions)),
	}
	metIndex := make(map[string]int, len(jm.Metabolites))
	for i, m := range jm.Metabolites {
		if _, ok := metIndex[m.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate metabolite %q", ErrInvalid, m.ID)
		}
		metIndex[m.ID] = i
		st.Metabolites[i] = Metabolite{ID: m.ID, Compartment: m.Compartment}
	}

	st.S = mat.NewDense(len(jm.Metabolites), len(jm.Reactions), nil)
	for j, r := range jm.Reactions {
		stoich := make(map[int]float64, len(r.Metabolites))
		reactants, products := 0, 0
		for mid, coef := range r.Metabolites {
			i, ok := metIndex[mid]
			if !ok {
				return nil, fmt.Errorf("%w: reaction %s uses unknown metabolite %q", ErrInvalid, r.ID, mid)
			}
			if coef == 0 {
				continue
			}
			stoich[i] = coef
			st.S.Set(i, j, coef)
			if coef < 0 {
				reactants++
			} else {
				products++
			}
		}
		gpr, err := ParseGPR(r.Rule)
		if err != nil {
			return nil, fmt.Errorf("reaction %s: %w", r.ID, err)
		}
		rxn := Reaction{
			ID:           r.ID,
			Compartments: compartments(st.Metabolites, stoich),
			Boundary:     len(stoich) == 1 && (reactants == 0 || products == 0),
			LowerBound:   0,
			UpperBound:   1000,
			GPR:          gpr,
		}
		if r.LowerBound != nil {
			rxn.LowerBound = *r.LowerBound
		}
		if r.UpperBound != nil {
			rxn.UpperBound = *r.UpperBound
		}
		st.Reactions[j] = rxn
	}
	return st, nil
}

// ReadReferenceFlux reads reference flux values, one "reaction,value"
// pair per line without a header.
func ReadReferenceFlux(rd io.Reader) (map[string]float64, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	flux := make(map[string]float64)
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("reference flux line %d: expected two fields", line)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("reference flux line %d: %w", line, err)
		}
		flux[strings.TrimSpace(rec[0])] = v
	}
	return flux, nil
}

// Assemble combines network structure with the reference flux. Every
// reaction must have a reference flux value.
func Assemble(st *Structure, flux map[string]float64) (*Network, error) {
	vstar := make([]float64, len(st.Reactions))
	for j, r := range st.Reactions {
		v, ok := flux[r.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no reference flux for reaction %s", ErrInvalid, r.ID)
		}
		vstar[j] = v
	}
	if len(flux) != len(st.Reactions) {
		log.Warningf("Reference flux has %d values for %d reactions, extra values ignored",
			len(flux), len(st.Reactions))
	}
	return New(st.Metabolites, st.Reactions, st.S, vstar)
}

// Load reads the JSON model and the reference flux file.
func Load(modelFileName, fluxFileName string) (*Network, error) {
	mf, err := os.Open(modelFileName)
	if err != nil {
		return nil, err
	}
	defer mf.Close()
	st, err := ReadJSON(mf)
	if err != nil {
		return nil, err
	}

	ff, err := os.Open(fluxFileName)
	if err != nil {
		return nil, err
	}
	defer ff.Close()
	flux, err := ReadReferenceFlux(ff)
	if err != nil {
		return nil, err
	}

	n, err := Assemble(st, flux)
	if err != nil {
		return nil, err
	}
	log.Infof("Read model %q: %d metabolites, %d reactions, %d genes",
		st.ID, n.NMetabolites(), n.NReactions(), len(n.Genes()))
	if res := n.BalanceResidual(); res > 1e-6 {
		log.Warningf("Reference flux is not balanced, max |S*v| = %g", res)
	}
	return n, nil
}
