package archive

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotTrace saves the objective trace as an image; the format is
// chosen by the file extension.
func PlotTrace(fileName, objective string, trace []float64) error {
	trace = finiteTrace(trace)
	if len(trace) == 0 {
		return errors.New("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = objective

	pts := make(plotter.XYs, len(trace))
	for i, v := range trace {
		pts[i].X = float64(i)
		pts[i].Y = v
	}

	if err := plotutil.AddLines(p, objective, pts); err != nil {
		return err
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, fileName); err != nil {
		return err
	}
	log.Infof("Wrote %s", fileName)
	return nil
}
