package main

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"bitbucket.org/Davydov/bmca/archive"
	"bitbucket.org/Davydov/bmca/model"
)

const chainModel = `{
  "id": "chain",
  "metabolites": [
    {"id": "m1", "compartment": "c"},
    {"id": "m2", "compartment": "c"}
  ],
  "reactions": [
    {"id": "r1", "metabolites": {"m1": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r2", "metabolites": {"m1": -1, "m2": 1}, "lower_bound": 0, "upper_bound": 10},
    {"id": "r3", "metabolites": {"m2": -1}, "lower_bound": 0, "upper_bound": 10}
  ]
}`

const (
	chainFlux        = "r1,1\nr2,1\nr3,1\n"
	chainMetabolites = ",ref,a,b\nm1,0,0.3,-0.2\nm2,0,0.1,0.2\n"
	chainEnzymes     = ",ref,a,b\nr2,1,1.2,0.9\n"
)

// writeInputs writes the chain fixture and returns run settings
// pointing to it.
func writeInputs(tst *testing.T) *runSettings {
	dir := tst.TempDir()
	files := map[string]string{
		"model.json":      chainModel,
		"flux.csv":        chainFlux,
		"metabolites.csv": chainMetabolites,
		"enzymes.csv":     chainEnzymes,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0666); err != nil {
			tst.Fatal("Error: ", err)
		}
	}
	return &runSettings{
		modelF:            filepath.Join(dir, "model.json"),
		fluxF:             filepath.Join(dir, "flux.csv"),
		metabolitesF:      filepath.Join(dir, "metabolites.csv"),
		enzymesF:          filepath.Join(dir, "enzymes.csv"),
		config:            model.DefaultConfig("ref"),
		samples:           100,
		seed:              1,
		checkpointSeconds: 60,
		outPrefix:         filepath.Join(dir, "out"),
	}
}

func exists(fileName string) bool {
	_, err := os.Stat(fileName)
	return err == nil
}

func TestAssembleOnly(tst *testing.T) {
	rs := writeInputs(tst)
	summary, err := run(rs, &optimizerSettings{method: "advi", iterations: 10})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(summary.Conditions) != 2 || summary.Posterior != nil {
		tst.Error("Wrong summary:", summary.Conditions, summary.Posterior)
	}
	if !exists(rs.outPrefix + "_data.json.gz") {
		tst.Error("Data archive was not written")
	}
	if exists(rs.outPrefix + "_results.json.gz") {
		tst.Error("Results written without inference")
	}
}

func TestRunADVI(tst *testing.T) {
	rs := writeInputs(tst)
	rs.runInference = true
	rs.checkpointF = rs.outPrefix + ".db"
	o := &optimizerSettings{
		method:       "advi",
		iterations:   200,
		report:       10,
		learningRate: 0.01,
		maxNorm:      10,
		mcSamples:    1,
	}
	summary, err := run(rs, o)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	for _, suffix := range []string{"_data.json.gz", "_results.json.gz", "_trace.png"} {
		if !exists(rs.outPrefix + suffix) {
			tst.Error("Missing output:", suffix)
		}
	}
	if summary.Posterior == nil || len(summary.Parameters) != summary.NParameters {
		tst.Fatal("Wrong summary")
	}
	var res archive.Results
	if err := archive.ReadJSONGz(rs.outPrefix+"_results.json.gz", &res); err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(res.Trace) != 200 || res.Approximation.SD == nil {
		tst.Error("Wrong results:", len(res.Trace))
	}

	// finished run is restored from the checkpoint
	first := summary.Parameters.Values(nil)
	summary, err = run(rs, o)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	second := summary.Parameters.Values(nil)
	for i := range first {
		if first[i] != second[i] {
			tst.Error("Parameter mismatch after restore:", i, first[i], second[i])
		}
	}
}

var errEvaluation = errors.New("evaluation failed")

// failingModel fails after the given number of evaluations.
type failingModel struct {
	*model.Model
	failAfter int
	calls     int
}

func (f *failingModel) LogPosterior(x, grad []float64) (float64, error) {
	f.calls++
	if f.calls > f.failAfter {
		return 0, errEvaluation
	}
	return f.Model.LogPosterior(x, grad)
}

func TestInferFailure(tst *testing.T) {
	rs := writeInputs(tst)
	rs.runInference = true
	rng := rand.New(rand.NewSource(rs.seed))
	in, err := newInputs(rs, rng)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m := model.New(in, rng)
	fm := &failingModel{Model: m, failAfter: 20}
	o := &optimizerSettings{
		method:       "advi",
		iterations:   100,
		report:       10,
		learningRate: 0.01,
		maxNorm:      10,
		mcSamples:    1,
	}
	summary := &RunSummary{}
	if _, err := infer(rs, o, fm, m.Definition(), rng, summary); !errors.Is(err, errEvaluation) {
		tst.Fatal("Failure was not reported:", err)
	}
	if summary.Method != "advi" {
		tst.Error("Summary was not filled after failure")
	}
	var res archive.Results
	if err := archive.ReadJSONGz(rs.outPrefix+"_results.json.gz", &res); err != nil {
		tst.Fatal("Results were not written after failure:", err)
	}
	if len(res.Trace) == 0 || len(res.Trace) >= o.iterations {
		tst.Error("Wrong trace length after failure:", len(res.Trace))
	}
	if !exists(rs.outPrefix + "_trace.png") {
		tst.Error("Trace plot was not written after failure")
	}
}

func TestRunMethods(tst *testing.T) {
	for _, method := range []string{"none", "mh"} {
		rs := writeInputs(tst)
		rs.runInference = true
		o := &optimizerSettings{
			method:     method,
			iterations: 100,
			report:     10,
			accept:     50,
			sd:         0.01,
		}
		summary, err := run(rs, o)
		if err != nil {
			tst.Fatal(method, "Error: ", err)
		}
		if summary.Method != method || summary.Posterior == nil {
			tst.Error("Wrong summary for", method)
		}
	}
}

func TestStart(tst *testing.T) {
	rs := writeInputs(tst)
	rs.runInference = true
	o := &optimizerSettings{method: "none", iterations: 1}
	summary, err := run(rs, o)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	values := summary.Parameters.Values(nil)

	startF := filepath.Join(tst.TempDir(), "start.json")
	values[0] += 0.5
	if err := summary.Parameters.SetValues(values); err != nil {
		tst.Fatal("Error: ", err)
	}
	b, err := summary.Parameters.MarshalJSON()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if err := os.WriteFile(startF, b, 0666); err != nil {
		tst.Fatal("Error: ", err)
	}

	rs.seed = 2
	rs.startF = startF
	summary, err = run(rs, o)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if got := summary.Parameters.Values(nil)[0]; got != values[0] {
		tst.Error("Start position was not used:", got, values[0])
	}

	if err := os.WriteFile(startF, []byte("{}"), 0666); err != nil {
		tst.Fatal("Error: ", err)
	}
	if _, err := run(rs, o); err == nil {
		tst.Error("Incomplete start position accepted")
	}
}

func TestConfig(tst *testing.T) {
	rs := writeInputs(tst)
	cfgF := filepath.Join(tst.TempDir(), "config.yaml")
	yml := "model:\n  reference: ref\n  clip: 2\ninference:\n  run: true\n  iterations: 500\n  learningRate: 0.01\n"
	if err := os.WriteFile(cfgF, []byte(yml), 0666); err != nil {
		tst.Fatal("Error: ", err)
	}
	cfg, err := readConfig(cfgF)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if cfg.Model.Reference != "ref" || cfg.Model.Clip != 2 || cfg.Model.FluxSigma != 0.1 {
		tst.Error("Wrong model configuration:", cfg.Model)
	}
	if !cfg.Inference.Run || cfg.Inference.Iterations != 500 || cfg.Inference.MaxNorm != 100 || cfg.Inference.Method != "advi" {
		tst.Error("Wrong inference configuration:", cfg.Inference)
	}

	_, err = app.Parse([]string{"--iter", "50", "--method", "mh", "-r", "wt",
		rs.modelF, rs.fluxF, rs.metabolitesF, rs.enzymesF})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	cfg.applyFlags()
	if cfg.Inference.Iterations != 50 || cfg.Inference.Method != "mh" || cfg.Model.Reference != "wt" {
		tst.Error("Flags were not applied:", cfg.Inference, cfg.Model.Reference)
	}
	if cfg.Inference.LearningRate != 0.01 || cfg.Model.Clip != 2 {
		tst.Error("Unset flags override the file:", cfg.Inference.LearningRate, cfg.Model.Clip)
	}
	if err := cfg.validate(); err != nil {
		tst.Error("Error: ", err)
	}
	cfg.Inference.Iterations = 0
	if err := cfg.validate(); err == nil {
		tst.Error("Zero iterations accepted")
	}

	if err := os.WriteFile(cfgF, []byte("inference:\n  iterationz: 5\n"), 0666); err != nil {
		tst.Fatal("Error: ", err)
	}
	if _, err := readConfig(cfgF); err == nil {
		tst.Error("Unknown key accepted")
	}
}

func TestOptimizerSettings(tst *testing.T) {
	o := &optimizerSettings{method: "simplex"}
	if _, err := o.getOptimizer(nil); err == nil {
		tst.Error("Unknown method accepted")
	}
	for _, method := range []string{"advi", "lbfgsb", "mh", "none"} {
		o.method = method
		if _, err := o.getOptimizer(nil); err != nil {
			tst.Error(method, "Error: ", err)
		}
	}
}
