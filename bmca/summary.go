package main

import (
	"bitbucket.org/Davydov/bmca/archive"
	"bitbucket.org/Davydov/bmca/optimize"
)

// CallSummary stores information on the program call.
type CallSummary struct {
	// Version stores bmca version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// TotalTime is the computations time in seconds.
	TotalTime float64 `json:"time"`
}

// RunSummary is storing bmca run summary information.
type RunSummary struct {
	CallSummary
	// Reference is the reference condition.
	Reference string `json:"reference"`
	// Conditions are the non-reference conditions.
	Conditions []string `json:"conditions"`
	// NParameters is the number of latent parameters.
	NParameters int `json:"nParameters"`
	// Method is the inference method.
	Method string `json:"method,omitempty"`
	// Time is the inference time in seconds.
	Time float64 `json:"inferenceTime"`
	// Optimizer is the optimizer summary.
	Optimizer interface{} `json:"optimizer,omitempty"`
	// Posterior is the posterior summary.
	Posterior *archive.Summary `json:"posterior,omitempty"`
	// Parameters are the final parameter values (the variational
	// mean for ADVI).
	Parameters optimize.FloatParameters `json:"parameters,omitempty"`
}
