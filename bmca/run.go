package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"syscall"
	"time"

	"bitbucket.org/Davydov/bmca/archive"
	"bitbucket.org/Davydov/bmca/checkpoint"
	"bitbucket.org/Davydov/bmca/elasticity"
	"bitbucket.org/Davydov/bmca/model"
	"bitbucket.org/Davydov/bmca/network"
	"bitbucket.org/Davydov/bmca/omics"
	"bitbucket.org/Davydov/bmca/optimize"
)

// lastLine returns the last line of a file content.
func lastLine(fn string) (line string, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return line, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 64<<20)
	for scanner.Scan() {
		line = scanner.Text()
	}
	err = scanner.Err()
	return line, err
}

// readStart sets parameter values from the last line of a trajectory
// file or from a JSON file.
func readStart(par optimize.FloatParameters, fileName string) error {
	l, err := lastLine(fileName)
	if err == nil {
		err = par.ReadLine(l)
	}
	if err != nil {
		log.Debug("Reading start file as JSON")
		// fileName is neither trajectory nor correct JSON
		if err2 := par.ReadFromJSON(fileName); err2 != nil {
			log.Error("Error reading start position from JSON:", err2)
			return fmt.Errorf("Error reading start position from trajectory file: %w", err)
		}
	}
	if !par.InRange() {
		return errors.New("Initial parameters are not finite")
	}
	return nil
}

// newInputs reads the network and the observations and validates
// them.
func newInputs(rs *runSettings, rng *rand.Rand) (*model.Inputs, error) {
	n, err := network.Load(rs.modelF, rs.fluxF)
	if err != nil {
		return nil, err
	}

	var obs model.Observations
	if obs.Metabolites, err = omics.ReadCSVFile(rs.metabolitesF); err != nil {
		return nil, err
	}
	if obs.Enzymes, err = omics.ReadCSVFile(rs.enzymesF); err != nil {
		return nil, err
	}
	if rs.fluxesF != "" {
		if obs.Fluxes, err = omics.ReadCSVFile(rs.fluxesF); err != nil {
			return nil, err
		}
	}

	t := elasticity.Build(n, rng)
	return model.NewInputs(n, t, obs, rs.config)
}

// run assembles the model and runs the inference. Summary is
// returned together with the inference error so that the caller can
// still report it.
func run(rs *runSettings, o *optimizerSettings) (*RunSummary, error) {
	if rs.runInference && rs.samples < archive.MinSamples {
		return nil, fmt.Errorf("at least %d posterior samples are required, got %d", archive.MinSamples, rs.samples)
	}
	rng := rand.New(rand.NewSource(rs.seed))

	in, err := newInputs(rs, rng)
	if err != nil {
		return nil, err
	}
	m := model.New(in, rng)
	log.Infof("Model has %d parameters.", m.Len())

	if err := archive.WriteJSONGz(rs.outPrefix+"_data.json.gz", m.Snapshot()); err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Reference:   rs.config.Reference,
		Conditions:  in.Conditions,
		NParameters: m.Len(),
	}
	if !rs.runInference {
		log.Notice("Inference is not requested, model assembled.")
		return summary, nil
	}

	if rs.startF != "" {
		if err := readStart(m.GetFloatParameters(), rs.startF); err != nil {
			return nil, err
		}
	}

	res, err := infer(rs, o, m, m.Definition(), rng, summary)
	if err != nil {
		return summary, err
	}

	post, err := archive.Summarize(res, m, rs.samples, rng)
	if err != nil {
		return summary, err
	}
	summary.Posterior = post
	summary.Parameters = m.GetFloatParameters()
	return summary, nil
}

// infer runs the optimizer on m and writes the results archive and
// the trace plot. A failed run still writes both with the trace up to
// the last successful iteration.
func infer(rs *runSettings, o *optimizerSettings, m optimize.Optimizable, def *model.Definition, rng *rand.Rand, summary *RunSummary) (*archive.Results, error) {
	opt, err := o.create(m, rng)
	if err != nil {
		return nil, err
	}

	if rs.checkpointF != "" {
		db, err := checkpoint.Open(rs.checkpointF)
		if err != nil {
			return nil, fmt.Errorf("Error opening checkpoint database: %w", err)
		}
		defer db.Close()
		opt.SetCheckpointIO(checkpoint.NewIO(db, []byte(o.method), rs.checkpointSeconds))
	}
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM)

	startTime := time.Now()
	runErr := opt.Run(o.iterations)
	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)

	summary.Method = o.method
	summary.Time = deltaT.Seconds()
	summary.Optimizer = opt.Summary()

	res := archive.NewResults(o.method, def, opt.Approximation(), opt.Trace())
	if err := archive.WriteJSONGz(rs.outPrefix+"_results.json.gz", res); err != nil {
		if runErr != nil {
			log.Error("Error writing results:", err)
			return nil, runErr
		}
		return nil, err
	}
	if len(res.Trace) > 0 {
		if err := archive.PlotTrace(rs.outPrefix+"_trace.png", o.objective(), res.Trace); err != nil {
			log.Error("Error plotting trace:", err)
		}
	}
	if runErr != nil {
		log.Noticef("Inference failed, results up to the failure written to %s_results.json.gz", rs.outPrefix)
		return nil, runErr
	}
	return res, nil
}
