package omics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"bitbucket.org/Davydov/bmca/network"
)

// ErrPrevNext is returned for malformed Prev/Next tables.
var ErrPrevNext = errors.New("invalid prev/next table")

// GeneExpressionToEnzymeActivity maps gene expression to enzyme
// activity for every rule. Reactions without genes get NaN. Otherwise
// the activity is the sum over isozymes of the minimal subunit
// expression. Genes missing from expression count as +Inf, so an
// isozyme with no observed genes contributes +Inf.
func GeneExpressionToEnzymeActivity(gprs []network.GPR, expression map[string]float64) []float64 {
	activity := make([]float64, len(gprs))
	for i, g := range gprs {
		if g.Empty() {
			activity[i] = math.NaN()
			continue
		}
		for _, cl := range g {
			isozyme := math.Inf(+1)
			for _, gene := range cl {
				if v, ok := expression[gene]; ok {
					isozyme = math.Min(isozyme, v)
				}
			}
			activity[i] += isozyme
		}
	}
	return activity
}

// ConvertTranscriptomicsToEnzymeActivity converts transcriptomics
// (genes × conditions) into enzyme activity (reactions × conditions).
// Rows follow the canonical reaction order of the network. Empty input
// results in an empty table.
func ConvertTranscriptomicsToEnzymeActivity(transcriptomics *Table, n *network.Network) (*Table, error) {
	if transcriptomics.Empty() || n == nil || n.NReactions() == 0 {
		return NewTable(nil, nil, nil)
	}
	gprs := n.GPRs()
	res, err := NewTable(n.ReactionIDs(), transcriptomics.Cols, nil)
	if err != nil {
		return nil, err
	}
	expression := make(map[string]float64, len(transcriptomics.Rows))
	for j := range transcriptomics.Cols {
		for i, gene := range transcriptomics.Rows {
			expression[gene] = transcriptomics.At(i, j)
		}
		for i, v := range GeneExpressionToEnzymeActivity(gprs, expression) {
			res.Set(i, j, v)
		}
	}
	noGPR := 0
	for _, g := range gprs {
		if g.Empty() {
			noGPR++
		}
	}
	log.Infof("Enzyme activity for %d reactions, %d reactions without genes", len(gprs), noGPR)
	return res, nil
}

// PrevNext describes which samples are used to compute a rate for a
// sample. DeltaT overrides the common time step when positive.
type PrevNext struct {
	Prev   string
	Next   string
	DeltaT float64
}

// PrevNextFromSeries builds Prev/Next entries for ordered series of
// samples (e.g. replicates of a time course). First sample of each
// series is its own Prev, last sample is its own Next.
func PrevNextFromSeries(series [][]string) (map[string]PrevNext, error) {
	pn := make(map[string]PrevNext)
	for _, s := range series {
		for i, id := range s {
			if _, ok := pn[id]; ok {
				return nil, fmt.Errorf("%w: sample %q appears twice", ErrPrevNext, id)
			}
			e := PrevNext{Prev: id, Next: id}
			if i > 0 {
				e.Prev = s[i-1]
			}
			if i < len(s)-1 {
				e.Next = s[i+1]
			}
			pn[id] = e
		}
	}
	return pn, nil
}

// ReadPrevNext reads a Prev/Next table. The header has to contain
// sample, prev and next columns; an optional delta_t column sets the
// time step per sample.
func ReadPrevNext(rd io.Reader) (map[string]PrevNext, error) {
	r := csv.NewReader(rd)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrPrevNext)
	}
	col := map[string]int{"delta_t": -1}
	for k, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = k
	}
	for _, name := range []string{"sample", "prev", "next"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: no %s column", ErrPrevNext, name)
		}
	}
	pn := make(map[string]PrevNext, len(records)-1)
	for k, rec := range records[1:] {
		id := rec[col["sample"]]
		if _, ok := pn[id]; ok {
			return nil, fmt.Errorf("%w: sample %q appears twice", ErrPrevNext, id)
		}
		e := PrevNext{Prev: rec[col["prev"]], Next: rec[col["next"]]}
		if j := col["delta_t"]; j >= 0 && strings.TrimSpace(rec[j]) != "" {
			if e.DeltaT, err = strconv.ParseFloat(strings.TrimSpace(rec[j]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", k+2, err)
			}
		}
		pn[id] = e
	}
	return pn, nil
}

// ComputeMetaboliteRates computes rates of change for every sample
// (column) of a metabolite time series: (x[Next]-x[Prev])/dt, where dt
// is doubled if the sample is neither its own Prev nor its own Next.
func ComputeMetaboliteRates(series *Table, prevNext map[string]PrevNext, deltaT float64) (*Table, error) {
	if series.Empty() {
		return NewTable(series.Rows, series.Cols, nil)
	}
	for _, id := range series.Cols {
		e, ok := prevNext[id]
		if !ok {
			return nil, fmt.Errorf("%w: no entry for sample %q", ErrPrevNext, id)
		}
		if _, ok := series.ColIndex(e.Prev); !ok {
			return nil, fmt.Errorf("%w: previous sample %q of %q is not in the series", ErrPrevNext, e.Prev, id)
		}
		if _, ok := series.ColIndex(e.Next); !ok {
			return nil, fmt.Errorf("%w: next sample %q of %q is not in the series", ErrPrevNext, e.Next, id)
		}
		if e.DeltaT <= 0 && deltaT <= 0 {
			return nil, fmt.Errorf("%w: non-positive time step for %q", ErrPrevNext, id)
		}
	}

	res, err := NewTable(series.Rows, series.Cols, nil)
	if err != nil {
		return nil, err
	}
	for j, id := range series.Cols {
		e := prevNext[id]
		dt := deltaT
		if e.DeltaT > 0 {
			dt = e.DeltaT
		}
		if e.Prev != id && e.Next != id {
			dt *= 2
		}
		p, _ := series.ColIndex(e.Prev)
		q, _ := series.ColIndex(e.Next)
		for i := range series.Rows {
			res.Set(i, j, (series.At(i, q)-series.At(i, p))/dt)
		}
	}
	return res, nil
}

// sortedUnique returns sorted unique strings.
func sortedUnique(lists ...[]string) []string {
	set := make(map[string]bool)
	for _, l := range lists {
		for _, s := range l {
			set[s] = true
		}
	}
	res := make([]string, 0, len(set))
	for s := range set {
		res = append(res, s)
	}
	sort.Strings(res)
	return res
}

// PrepareDataForBMCA combines measured data with unmeasured and
// unmapped variables. Rows are all variables, columns are all
// conditions, both sorted. Measured values are copied as is,
// everything else defaults to +Inf; unmapped variables are NaN.
func PrepareDataForBMCA(conditions []string, measured *Table, unmeasured, unmapped []string) (*Table, error) {
	var measuredRows, measuredCols []string
	if measured != nil {
		measuredRows, measuredCols = measured.Rows, measured.Cols
	}
	conds := sortedUnique(conditions)
	condSet := make(map[string]bool, len(conds))
	for _, c := range conds {
		condSet[c] = true
	}
	for _, c := range measuredCols {
		if !condSet[c] {
			return nil, fmt.Errorf("%w: measured condition %q is not in the condition list", ErrMissing, c)
		}
	}
	vars := sortedUnique(measuredRows, unmeasured, unmapped)
	res, err := NewFilledTable(vars, conds, math.Inf(+1))
	if err != nil || res.Empty() {
		return res, err
	}
	if !measured.Empty() {
		for a, row := range measured.Rows {
			i, _ := res.RowIndex(row)
			for b, col := range measured.Cols {
				j, _ := res.ColIndex(col)
				res.Set(i, j, measured.At(a, b))
			}
		}
	}
	for _, row := range unmeasured {
		i, _ := res.RowIndex(row)
		for j := range conds {
			res.Set(i, j, math.Inf(+1))
		}
	}
	for _, row := range unmapped {
		i, _ := res.RowIndex(row)
		for j := range conds {
			res.Set(i, j, math.NaN())
		}
	}
	return res, nil
}
