package optimize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
)

// FloatParameter is a single unconstrained model parameter.
type FloatParameter interface {
	Name() string
	Get() float64
	Set(float64)
	// LogPrior is the log prior density at the current value,
	// OldLogPrior at the value before the last proposal.
	LogPrior() float64
	OldLogPrior() float64
	// Propose replaces the value by a proposal, Reject restores
	// the previous one.
	Propose()
	Reject()
	SetProposalFunc(func(float64) float64)
	// InRange is false for non-finite values.
	InRange() bool
	String() string
}

// FloatParameters is an ordered list of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns parameter names, reusing is if not nil.
func (p *FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(*p))
	} else {
		s = is
	}
	for i, par := range *p {
		s[i] = par.Name()
	}
	return
}

// Values returns parameter values, reusing iv if not nil.
func (p *FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(*p))
	} else {
		v = iv
	}
	for i, par := range *p {
		v[i] = par.Get()
	}
	return
}

// SetValues sets all parameter values.
func (p *FloatParameters) SetValues(v []float64) error {
	if len(v) != len(*p) {
		return fmt.Errorf("Incorrect number of parameters: %d, expected %d", len(v), len(*p))
	}
	for i, par := range *p {
		par.Set(v[i])
	}
	return nil
}

// ReadLine sets values from a trajectory line (iteration, objective
// and parameter values separated by whitespace).
func (p *FloatParameters) ReadLine(l string) error {
	v, err := ReadFloats(l)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return errors.New("Trajectory line is too short")
	}
	return p.SetValues(v[2:])
}

// ReadFromJSON reads parameter values from a JSON file containing an
// object with parameter names as keys.
func (p *FloatParameters) ReadFromJSON(fileName string) error {
	b, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, p)
}

// InRange returns true if all parameters are within their bounds.
func (p *FloatParameters) InRange() bool {
	for _, par := range *p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// NamesString returns tab-separated parameter names.
func (p *FloatParameters) NamesString() (s string) {
	var buf bytes.Buffer
	for i, par := range *p {
		if i != 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(par.Name())
	}
	return buf.String()
}

// ValuesString returns tab-separated parameter values.
func (p *FloatParameters) ValuesString() (s string) {
	var buf bytes.Buffer
	for i, par := range *p {
		if i != 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(par.String())
	}
	return buf.String()
}

// MarshalJSON encodes parameters as a JSON object keeping the order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, par := range p {
		if i != 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(par.Get(), 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON sets values of existing parameters from a JSON
// object. Every parameter has to be present.
func (p *FloatParameters) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for _, par := range *p {
		v, ok := m[par.Name()]
		if !ok {
			return fmt.Errorf("Parameter %s is missing", par.Name())
		}
		par.Set(v)
	}
	return nil
}

// BasicFloatParameter is a parameter stored in a float64 variable.
type BasicFloatParameter struct {
	v        *float64
	old      float64
	name     string
	prior    Prior
	proposal func(float64) float64
}

// NewBasicFloatParameter creates a new parameter; nil prior is flat.
func NewBasicFloatParameter(v *float64, name string, prior Prior) *BasicFloatParameter {
	return &BasicFloatParameter{
		v:        v,
		name:     name,
		prior:    prior,
		proposal: NormalProposal(1),
	}
}

// SetProposalFunc sets the MCMC proposal function.
func (p *BasicFloatParameter) SetProposalFunc(f func(float64) float64) {
	p.proposal = f
}

func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) Get() float64 {
	return *p.v
}

func (p *BasicFloatParameter) Set(v float64) {
	*p.v = v
}

func (p *BasicFloatParameter) logPrior(x float64) float64 {
	if p.prior == nil {
		return 0
	}
	return p.prior.LogProb(x)
}

func (p *BasicFloatParameter) LogPrior() float64 {
	return p.logPrior(*p.v)
}

func (p *BasicFloatParameter) OldLogPrior() float64 {
	return p.logPrior(p.old)
}

func (p *BasicFloatParameter) Propose() {
	p.old = *p.v
	*p.v = p.proposal(p.old)
}

func (p *BasicFloatParameter) Reject() {
	*p.v = p.old
}

func (p *BasicFloatParameter) InRange() bool {
	return !math.IsNaN(*p.v) && !math.IsInf(*p.v, 0)
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.v, 'f', 6, 64)
}
