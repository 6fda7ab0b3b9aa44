/*

Bmca-omics prepares omics measurements for bmca.

Convert transcriptomics (genes × conditions) to enzyme activities
using gene-reaction rules of the model:

	bmca-omics enzyme model.json transcriptomics.csv -o enzymes.csv

Compute metabolite rates of change from a time series, either with a
Prev/Next table (sample,prev,next[,delta_t]) or with ordered series of
samples:

	bmca-omics rates series.csv -prevnext prevnext.csv
	bmca-omics rates series.csv -series A1,A2,A3 -series B1,B2,B3 -dt 0.5

Combine measured values with unmeasured and unmapped variables:

	bmca-omics prepare measured.csv -unmeasured m4 -unmapped m5

*/
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/bmca/network"
	"bitbucket.org/Davydov/bmca/omics"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("bmca-omics")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	app = kingpin.New("bmca-omics", "omics preprocessing for bmca").Version(version)

	outF     = app.Flag("out", "output CSV file, stdout by default").Short('o').String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")

	enzyme                  = app.Command("enzyme", "convert transcriptomics to enzyme activities")
	enzymeModelFileName     = enzyme.Arg("model", "metabolic model (COBRA JSON)").Required().ExistingFile()
	transcriptomicsFileName = enzyme.Arg("transcriptomics", "gene expression (genes × conditions CSV)").Required().ExistingFile()

	rates            = app.Command("rates", "compute metabolite rates of change")
	seriesFileName   = rates.Arg("series", "metabolite time series (metabolites × samples CSV)").Required().ExistingFile()
	prevNextFileName = rates.Flag("prevnext", "Prev/Next table (sample,prev,next[,delta_t])").ExistingFile()
	seriesSamples    = rates.Flag("series", "comma-separated ordered samples of a series (repeatable)").Strings()
	deltaT           = rates.Flag("dt", "time step between consecutive samples").Default("1").Float64()

	prepare          = app.Command("prepare", "combine measured, unmeasured and unmapped variables")
	measuredFileName = prepare.Arg("measured", "measured values (variables × conditions CSV)").Required().ExistingFile()
	conditions       = prepare.Flag("condition", "condition to include (repeatable), measured conditions by default").Strings()
	unmeasured       = prepare.Flag("unmeasured", "unmeasured variable (repeatable)").Strings()
	unmapped         = prepare.Flag("unmapped", "unmapped variable (repeatable)").Strings()
)

// loadNetwork reads the model structure. Enzyme activities do not
// depend on the reference flux, so it is set to zero.
func loadNetwork(fileName string) (*network.Network, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := network.ReadJSON(f)
	if err != nil {
		return nil, err
	}
	return network.New(st.Metabolites, st.Reactions, st.S, make([]float64, len(st.Reactions)))
}

// splitSeries parses comma-separated sample lists.
func splitSeries(lists []string) [][]string {
	res := make([][]string, 0, len(lists))
	for _, l := range lists {
		var s []string
		for _, id := range strings.Split(l, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s = append(s, id)
			}
		}
		res = append(res, s)
	}
	return res
}

func enzymeActivity(transcriptomicsF, modelF string) (*omics.Table, error) {
	n, err := loadNetwork(modelF)
	if err != nil {
		return nil, err
	}
	t, err := omics.ReadCSVFile(transcriptomicsF)
	if err != nil {
		return nil, err
	}
	return omics.ConvertTranscriptomicsToEnzymeActivity(t, n)
}

func metaboliteRates(seriesF, prevNextF string, series [][]string, dt float64) (*omics.Table, error) {
	t, err := omics.ReadCSVFile(seriesF)
	if err != nil {
		return nil, err
	}
	var pn map[string]omics.PrevNext
	if prevNextF != "" {
		f, err := os.Open(prevNextF)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		pn, err = omics.ReadPrevNext(f)
		if err != nil {
			return nil, err
		}
	} else {
		if len(series) == 0 {
			log.Info("No series given, using all samples as one series")
			series = [][]string{t.Cols}
		}
		pn, err = omics.PrevNextFromSeries(series)
		if err != nil {
			return nil, err
		}
	}
	return omics.ComputeMetaboliteRates(t, pn, dt)
}

func prepareData(measuredF string, conds, unmeasured, unmapped []string) (*omics.Table, error) {
	t, err := omics.ReadCSVFile(measuredF)
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		conds = t.Cols
	}
	return omics.PrepareDataForBMCA(conds, t, unmeasured, unmapped)
}

// writeTable writes the table to the file or to stdout.
func writeTable(fileName string, t *omics.Table) error {
	var w io.Writer = os.Stdout
	if fileName != "" {
		f, err := os.Create(fileName)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return omics.WriteCSV(w, t)
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logging.SetFormatter(formatter)
	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))
	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range []string{"bmca-omics", "network", "omics"} {
		logging.SetLevel(level, m)
	}
	log.Info(version)

	var t *omics.Table
	switch cmd {
	case enzyme.FullCommand():
		t, err = enzymeActivity(*transcriptomicsFileName, *enzymeModelFileName)
	case rates.FullCommand():
		t, err = metaboliteRates(*seriesFileName, *prevNextFileName, splitSeries(*seriesSamples), *deltaT)
	case prepare.FullCommand():
		t, err = prepareData(*measuredFileName, *conditions, *unmeasured, *unmapped)
	}
	if err != nil {
		log.Fatal(err)
	}
	if err := writeTable(*outF, t); err != nil {
		log.Fatal("Error writing table:", err)
	}
}
