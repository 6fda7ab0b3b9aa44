package model

import (
	"errors"
	"fmt"
)

// ErrConfig is returned for invalid configuration values.
var ErrConfig = errors.New("invalid model configuration")

// Config holds model constants.
type Config struct {
	// Reference is the reference condition.
	Reference string `yaml:"reference" json:"reference"`
	// Clip bounds absolute metabolite deviations and log flux
	// ratios in the likelihood.
	Clip float64 `yaml:"clip" json:"clip"`
	// RatioEnzymes divides enzyme values by the reference column.
	RatioEnzymes bool `yaml:"ratioEnzymes" json:"ratioEnzymes"`

	KineticSigma    float64 `yaml:"kineticSigma" json:"kineticSigma"`
	RegulatoryScale float64 `yaml:"regulatoryScale" json:"regulatoryScale"`
	MeasuredSigma   float64 `yaml:"measuredSigma" json:"measuredSigma"`
	UnmeasuredScale float64 `yaml:"unmeasuredScale" json:"unmeasuredScale"`
	ExternalSigma   float64 `yaml:"externalSigma" json:"externalSigma"`
	MetaboliteSigma float64 `yaml:"metaboliteSigma" json:"metaboliteSigma"`
	FluxSigma       float64 `yaml:"fluxSigma" json:"fluxSigma"`
}

// DefaultConfig returns the default configuration for the given
// reference condition.
func DefaultConfig(reference string) Config {
	return Config{
		Reference:       reference,
		Clip:            1.5,
		KineticSigma:    1,
		RegulatoryScale: 0.01,
		MeasuredSigma:   0.2,
		UnmeasuredScale: 0.1,
		ExternalSigma:   10,
		MetaboliteSigma: 0.2,
		FluxSigma:       0.1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Reference == "" {
		return fmt.Errorf("%w: reference condition is not set", ErrConfig)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"clip", c.Clip},
		{"kinetic sigma", c.KineticSigma},
		{"regulatory scale", c.RegulatoryScale},
		{"measured sigma", c.MeasuredSigma},
		{"unmeasured scale", c.UnmeasuredScale},
		{"external sigma", c.ExternalSigma},
		{"metabolite sigma", c.MetaboliteSigma},
		{"flux sigma", c.FluxSigma},
	} {
		if !(p.v > 0) {
			return fmt.Errorf("%w: %s should be positive, got %v", ErrConfig, p.name, p.v)
		}
	}
	return nil
}

// clip limits v to [-c, c].
func clip(v, c float64) float64 {
	switch {
	case v > c:
		return c
	case v < -c:
		return -c
	}
	return v
}
