package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/bmca/model"
	"bitbucket.org/Davydov/bmca/optimize"
)

// inferenceConfig is the inference part of the configuration file.
type inferenceConfig struct {
	Run          bool    `yaml:"run"`
	Method       string  `yaml:"method"`
	Iterations   int     `yaml:"iterations"`
	LearningRate float64 `yaml:"learningRate"`
	MaxNorm      float64 `yaml:"maxNorm"`
	MCSamples    int     `yaml:"mcSamples"`
}

// fileConfig is the YAML configuration file.
type fileConfig struct {
	Model     model.Config    `yaml:"model"`
	Inference inferenceConfig `yaml:"inference"`
}

// defaultConfig returns the configuration used when neither the file
// nor the flags set a value.
func defaultConfig() fileConfig {
	return fileConfig{
		Model: model.DefaultConfig(""),
		Inference: inferenceConfig{
			Method:       "advi",
			Iterations:   20000,
			LearningRate: 5e-3,
			MaxNorm:      100,
			MCSamples:    1,
		},
	}
}

// readConfig reads the YAML configuration on top of the defaults.
// Empty file name results in the defaults.
func readConfig(fileName string) (fileConfig, error) {
	cfg := defaultConfig()
	if fileName == "" {
		return cfg, nil
	}
	f, err := os.Open(fileName)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%s: %w", fileName, err)
	}
	log.Infof("Read configuration from %s", fileName)
	return cfg, nil
}

// applyFlags overrides configuration values with the command-line
// parameters (global variables) set by the user.
func (c *fileConfig) applyFlags() {
	if *reference != "" {
		c.Model.Reference = *reference
	}
	if *clipBound != 0 {
		c.Model.Clip = *clipBound
	}
	if *ratio {
		c.Model.RatioEnzymes = true
	}
	if *runInference {
		c.Inference.Run = true
	}
	if *method != "" {
		c.Inference.Method = *method
	}
	if *iterations != 0 {
		c.Inference.Iterations = *iterations
	}
	if *learningRate != 0 {
		c.Inference.LearningRate = *learningRate
	}
	if *maxNorm != 0 {
		c.Inference.MaxNorm = *maxNorm
	}
	if *mcSamples != 0 {
		c.Inference.MCSamples = *mcSamples
	}
}

// validate checks the configuration values.
func (c *fileConfig) validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	in := c.Inference
	switch {
	case in.Iterations <= 0:
		return fmt.Errorf("number of iterations should be positive, got %d", in.Iterations)
	case !(in.LearningRate > 0):
		return fmt.Errorf("learning rate should be positive, got %v", in.LearningRate)
	case !(in.MaxNorm > 0):
		return fmt.Errorf("gradient norm clip should be positive, got %v", in.MaxNorm)
	case in.MCSamples <= 0:
		return fmt.Errorf("number of Monte-Carlo samples should be positive, got %d", in.MCSamples)
	}
	return nil
}

// runSettings stores settings of a single run.
type runSettings struct {
	modelF       string
	fluxF        string
	metabolitesF string
	enzymesF     string
	fluxesF      string

	config       model.Config
	runInference bool

	startF  string
	samples int
	seed    int64

	checkpointF       string
	checkpointSeconds float64

	outPrefix string
}

// newRunSettings creates a new runSettings from the configuration and
// the command line parameters (global variables).
func newRunSettings(cfg fileConfig) *runSettings {
	return &runSettings{
		modelF:       *modelFileName,
		fluxF:        *fluxFileName,
		metabolitesF: *metabolitesFileName,
		enzymesF:     *enzymesFileName,
		fluxesF:      *fluxesFileName,

		config:       cfg.Model,
		runInference: cfg.Inference.Run,

		startF:  *startF,
		samples: *samples,
		seed:    *seed,

		checkpointF:       *checkpointF,
		checkpointSeconds: *checkpointSeconds,

		outPrefix: *outPrefix,
	}
}

// optimizerSettings stores settings for creation of a new optimizer.
type optimizerSettings struct {
	method     string
	iterations int

	report int

	learningRate float64
	maxNorm      float64
	mcSamples    int

	accept int
	burnIn int
	sd     float64

	trajF *os.File
}

// newOptimizerSettings creates a new optimizerSettings from the
// configuration and the command line parameters (global variables).
func newOptimizerSettings(cfg fileConfig) (*optimizerSettings, error) {
	o := &optimizerSettings{
		method:     cfg.Inference.Method,
		iterations: cfg.Inference.Iterations,

		report: *report,

		learningRate: cfg.Inference.LearningRate,
		maxNorm:      cfg.Inference.MaxNorm,
		mcSamples:    cfg.Inference.MCSamples,

		accept: *accept,
		burnIn: *burnIn,
		sd:     *proposalSD,
	}
	switch *trajF {
	case "":
	case "-":
		o.trajF = os.Stdout
	default:
		f, err := os.Create(*trajF)
		if err != nil {
			return nil, fmt.Errorf("Error creating trajectory file: %w", err)
		}
		o.trajF = f
	}
	return o, nil
}

// create creates and initializes a new optimizer from
// optimizerSettings.
func (o *optimizerSettings) create(m optimize.Optimizable, rng *rand.Rand) (optimize.Optimizer, error) {
	opt, err := o.getOptimizer(rng)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s optimization.", o.method)

	if o.trajF != nil {
		opt.SetTrajectoryOutput(o.trajF)
	}
	opt.SetOptimizable(m)

	opt.SetReportPeriod(o.report)

	return opt, nil
}

// getOptimizer returns an optimizer from settings.
func (o *optimizerSettings) getOptimizer(rng *rand.Rand) (optimize.Optimizer, error) {
	switch o.method {
	case "advi":
		advi := optimize.NewADVI(rng)
		advi.LearningRate = o.learningRate
		advi.MaxNorm = o.maxNorm
		advi.Samples = o.mcSamples
		return advi, nil
	case "lbfgsb":
		return optimize.NewLBFGSB(), nil
	case "mh":
		chain := optimize.NewMH(rng)
		chain.AccPeriod = o.accept
		chain.BurnIn = o.burnIn
		chain.SD = o.sd
		return chain, nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("Unknown optimization method: %s", o.method)
}

// objective returns the name of the value recorded in the trace.
func (o *optimizerSettings) objective() string {
	switch o.method {
	case "advi":
		return "-ELBO"
	case "mh":
		return "-log likelihood"
	}
	return "-log posterior"
}
