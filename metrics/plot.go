package metrics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveROCPlot renders an ROC curve to an image file alongside the
// diagonal chance line. The format follows the file extension (.png,
// .svg, .pdf).
func SaveROCPlot(points []Point, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = pt.FPR
		xys[i].Y = pt.TPR
	}
	curve, markers, err := plotter.NewLinePoints(xys)
	if err != nil {
		return errors.Wrap(err, "building ROC line")
	}

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "building chance line")
	}
	chance.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(curve, markers, chance)
	p.Legend.Add("model", curve)
	p.Legend.Add("chance", chance)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %s", path)
	}
	return nil
}
