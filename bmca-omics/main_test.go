package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"bitbucket.org/Davydov/bmca/omics"
)

const smallDiff = 1e-9

const toyModel = `{
  "id": "toy",
  "metabolites": [
    {"id": "m1", "compartment": "c"},
    {"id": "m2", "compartment": "c"}
  ],
  "reactions": [
    {"id": "r1", "metabolites": {"m1": 1}},
    {"id": "r2", "metabolites": {"m1": -1, "m2": 1}, "gene_reaction_rule": "g1 and g2"},
    {"id": "r3", "metabolites": {"m2": -1}, "gene_reaction_rule": "g3 or g4"}
  ]
}`

func writeFile(tst *testing.T, dir, name, content string) string {
	fileName := filepath.Join(dir, name)
	if err := os.WriteFile(fileName, []byte(content), 0666); err != nil {
		tst.Fatal("Error: ", err)
	}
	return fileName
}

func TestEnzymeActivity(tst *testing.T) {
	dir := tst.TempDir()
	modelF := writeFile(tst, dir, "model.json", toyModel)
	trF := writeFile(tst, dir, "tr.csv", ",a,b\ng1,1,5\ng2,2,3\ng3,4,1\ng4,1,1\n")
	t, err := enzymeActivity(trF, modelF)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if v, _ := t.Get("r1", "a"); !math.IsNaN(v) {
		tst.Error("Reaction without genes should be NaN, got", v)
	}
	if v, _ := t.Get("r2", "b"); math.Abs(v-3) > smallDiff {
		tst.Error("Wrong subunit minimum:", v)
	}
	if v, _ := t.Get("r3", "a"); math.Abs(v-5) > smallDiff {
		tst.Error("Wrong isozyme sum:", v)
	}

	outF := filepath.Join(dir, "out.csv")
	if err := writeTable(outF, t); err != nil {
		tst.Fatal("Error: ", err)
	}
	read, err := omics.ReadCSVFile(outF)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if !read.Equal(t) {
		tst.Error("Written table differs")
	}
}

func TestMetaboliteRates(tst *testing.T) {
	dir := tst.TempDir()
	seriesF := writeFile(tst, dir, "series.csv", ",A1,A2,A3\nm1,0,3,6\nm2,1,1,1\n")
	t, err := metaboliteRates(seriesF, "", splitSeries([]string{"A1, A2,A3"}), 0.5)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	for _, s := range []string{"A1", "A2", "A3"} {
		if v, _ := t.Get("m1", s); math.Abs(v-6) > smallDiff {
			tst.Error("Wrong rate for", s, v)
		}
		if v, _ := t.Get("m2", s); math.Abs(v) > smallDiff {
			tst.Error("Wrong rate for constant metabolite", s, v)
		}
	}

	pnF := writeFile(tst, dir, "pn.csv", "sample,prev,next,delta_t\nA1,A1,A2,1\nA2,A1,A3,1\nA3,A2,A3,1\n")
	t, err = metaboliteRates(seriesF, pnF, nil, 0)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if v, _ := t.Get("m1", "A2"); math.Abs(v-3) > smallDiff {
		tst.Error("Wrong rate with the Prev/Next table:", v)
	}

	if _, err := metaboliteRates(seriesF, "", [][]string{{"A1", "A2"}}, 1); err == nil {
		tst.Error("Incomplete series accepted")
	}
}

func TestPrepareData(tst *testing.T) {
	dir := tst.TempDir()
	measuredF := writeFile(tst, dir, "measured.csv", ",b,a\nm2,1,2\nm1,3,inf\n")
	t, err := prepareData(measuredF, nil, []string{"m3"}, []string{"m0"})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(t.Rows) != 4 || t.Rows[0] != "m0" || t.Cols[0] != "a" {
		tst.Fatal("Wrong table layout:", t.Rows, t.Cols)
	}
	if v, _ := t.Get("m1", "a"); !math.IsInf(v, 1) {
		tst.Error("Infinite value was not passed through:", v)
	}
	if v, _ := t.Get("m2", "a"); v != 2 {
		tst.Error("Wrong measured value:", v)
	}
	if v, _ := t.Get("m0", "b"); !math.IsNaN(v) {
		tst.Error("Unmapped variable should be NaN:", v)
	}
	if _, err := prepareData(measuredF, []string{"a"}, nil, nil); err == nil {
		tst.Error("Measured condition outside the condition list accepted")
	}
}
