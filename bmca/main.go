/*

Bmca infers elasticities of a metabolic network from multi-omics
data using linlog kinetics and variational inference.

The basic usage looks like this:

	bmca -r wt model.json flux.csv metabolites.csv enzymes.csv

, this will assemble the model, write the input snapshot and stop.
To run the inference add -run:

	bmca -r wt -run -iter 20000 -o out model.json flux.csv metabolites.csv enzymes.csv

The above writes out_results.json.gz, out_data.json.gz,
out_trace.png and out_summary.json.

Settings can also be read from a YAML file (-config), command-line
flags take precedence. To see all the options run:

	bmca -h

*/
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("bmca")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules lists loggers controlled by -loglevel.
var modules = []string{"bmca", "network", "omics", "elasticity", "linlog", "model", "optimize", "checkpoint", "archive"}

// command-line options
var (
	// application
	app = kingpin.New("bmca", "Bayesian metabolic control analysis with linlog kinetics").Version(version)

	// input
	modelFileName       = app.Arg("model", "metabolic model (COBRA JSON)").Required().ExistingFile()
	fluxFileName        = app.Arg("flux", "reference flux (reaction,value CSV without header)").Required().ExistingFile()
	metabolitesFileName = app.Arg("metabolites", "log2 metabolite abundances (metabolites × conditions CSV)").Required().ExistingFile()
	enzymesFileName     = app.Arg("enzymes", "enzyme activities (reactions × conditions CSV)").Required().ExistingFile()
	fluxesFileName      = app.Flag("fluxes", "boundary fluxes (reactions × conditions CSV)").ExistingFile()
	configFileName      = app.Flag("config", "YAML configuration file").ExistingFile()

	// model parameters
	reference = app.Flag("reference", "reference condition").Short('r').String()
	clipBound = app.Flag("clip", "observation clip bound (1.5 by default)").Float64()
	ratio     = app.Flag("ratio", "enzyme values are raw activities, divide by the reference").Bool()

	// inference parameters
	runInference = app.Flag("run", "run inference; only assemble the model and write the data archive otherwise").Bool()
	method       = app.Flag("method", "inference method to use "+
		"(advi: mean-field variational inference, "+
		"lbfgsb: maximum a posteriori estimate, "+
		"mh: Metropolis-Hastings, "+
		"none: just compute the log posterior)").Enum("advi", "lbfgsb", "mh", "none")
	iterations   = app.Flag("iter", "number of iterations (20000 by default)").Int()
	learningRate = app.Flag("lr", "ADVI learning rate (0.005 by default)").Float64()
	maxNorm      = app.Flag("maxnorm", "ADVI gradient norm clip (100 by default)").Float64()
	mcSamples    = app.Flag("mc", "ADVI Monte-Carlo samples per iteration (1 by default)").Int()
	report       = app.Flag("report", "report every N iterations").Default("100").Int()
	accept       = app.Flag("accept", "report acceptance rate every N iterations (mh)").Default("1000").Int()
	burnIn       = app.Flag("burnin", "burn-in iterations (mh)").Default("0").Int()
	proposalSD   = app.Flag("sd", "proposal standard deviation (mh)").Default("0.01").Float64()
	samples      = app.Flag("samples", "posterior samples for the elasticity summary").Default("1000").Int()
	startF       = app.Flag("start", "read start position from the trajectory or JSON file").ExistingFile()

	// technical
	nThreads          = app.Flag("nt", "number of threads to use").Int()
	seed              = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile        = app.Flag("cpuprofile", "write cpu profile to file").String()
	checkpointF       = app.Flag("checkpoint", "checkpoint database file").String()
	checkpointSeconds = app.Flag("checkpoint-seconds", "save checkpoint every N seconds").Default("60").Float64()

	// output
	outPrefix = app.Flag("out", "output files prefix").Short('o').Default("bmca").String()
	outLogF   = app.Flag("log", "write log to a file").String()
	trajF     = app.Flag("trajectory", "write trajectory to a file (- for stdout)").String()
	logLevel  = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range modules {
		logging.SetLevel(level, m)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	runtime.GOMAXPROCS(*nThreads)

	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	cfg, err := readConfig(*configFileName)
	if err != nil {
		log.Fatal(err)
	}
	cfg.applyFlags()
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}
	rs := newRunSettings(cfg)
	opts, err := newOptimizerSettings(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if opts.trajF != nil && opts.trajF != os.Stdout {
		defer opts.trajF.Close()
	}

	startTime := time.Now()
	summary, runErr := run(rs, opts)
	if summary == nil {
		log.Fatal(runErr)
	}
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = *seed
	summary.TotalTime = time.Since(startTime).Seconds()

	if rs.runInference {
		j, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			log.Error(err)
		} else if err := os.WriteFile(rs.outPrefix+"_summary.json", j, 0666); err != nil {
			log.Error("Error writing summary:", err)
		}
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}
