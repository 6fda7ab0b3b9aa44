package optimize

// None is an optimizer which computes the initial value and exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes the initial value only.
func NewNone() *None {
	return &None{}
}

// Run evaluates the log posterior (or the likelihood for models
// without gradient) at the current parameter values.
func (n *None) Run(iterations int) error {
	if d, ok := n.Optimizable.(Differentiable); ok {
		lp, err := d.LogPosterior(n.parameters.Values(nil), nil)
		if err != nil {
			return err
		}
		n.l = lp
	} else {
		n.l = n.Likelihood()
	}
	n.calls++
	n.update(n.l)
	n.trace = append(n.trace, -n.l)
	log.Infof("Objective at the starting point: %v", n.l)
	n.PrintHeader("objective")
	n.PrintLine(n.l, 1)
	return nil
}

// Approximation returns the starting point.
func (n *None) Approximation() *Approximation {
	return &Approximation{
		Names: n.parameters.Names(nil),
		Mean:  n.parameters.Values(nil),
	}
}

// NoneSummary summarizes the evaluation.
type NoneSummary struct {
	baseSummary
	Method string `json:"method"`
}

// Summary returns the run summary.
func (n *None) Summary() interface{} {
	return NoneSummary{
		baseSummary: n.baseSummary(),
		Method:      "none",
	}
}
