// Package diagplot renders estimation diagnostics with gonum/plot: a 2D
// scatter comparing ground truth, measurements and filtered estimates
// (generalizing the teacher's sim/plot.go New2DPlot almost directly, but
// over []mat.Vector trajectories instead of fixed *mat.Dense columns so it
// works for both the Kalman family's belief means and the particle family's
// weighted means), and a line plot of a scalar diagnostic series over time
// (new, for ESS and cumulative log-likelihood -- the teacher's sim package
// never plotted a scalar series since it only ever plotted 2D state
// trajectories).
package diagplot

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// TrajectoryPlot builds a 2D scatter plot comparing up to three state
// trajectories -- typically ground truth, noisy measurements, and a
// filter's estimated states -- over their first two dimensions. Any of
// truth, measured or filtered may be nil to omit that series. It returns an
// error if every series is nil or if a non-nil series has states with fewer
// than 2 dimensions.
func TrajectoryPlot(title string, truth, measured, filtered []mat.Vector) (*plot.Plot, error) {
	if truth == nil && measured == nil && filtered == nil {
		return nil, fmt.Errorf("diagplot: no data supplied")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x1"
	p.Y.Label.Text = "x2"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	if err := addSeries(p, truth, "truth", color.RGBA{R: 255, B: 128, A: 255}, draw.PyramidGlyph{}); err != nil {
		return nil, err
	}
	if err := addSeries(p, measured, "measurement", color.RGBA{G: 255, A: 128}, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	if err := addSeries(p, filtered, "filtered", color.RGBA{R: 169, G: 169, B: 169, A: 255}, draw.CrossGlyph{}); err != nil {
		return nil, err
	}

	return p, nil
}

func addSeries(p *plot.Plot, series []mat.Vector, label string, c color.Color, shape draw.GlyphDrawer) error {
	if series == nil {
		return nil
	}
	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		if v.Len() < 2 {
			return fmt.Errorf("diagplot: series %q has a state of length %d, want >= 2", label, v.Len())
		}
		pts[i].X = v.AtVec(0)
		pts[i].Y = v.AtVec(1)
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("diagplot: failed to build scatter for %q: %w", label, err)
	}
	scatter.GlyphStyle.Color = c
	scatter.Shape = shape
	scatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(scatter)
	p.Legend.Add(label, scatter)
	return nil
}

// SeriesPlot builds a simple line plot of a scalar diagnostic series
// against time step; the CLI driver uses it to plot the measured altitude
// series.
func SeriesPlot(title, yLabel string, values []float64) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("diagplot: no values supplied")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("diagplot: failed to build line: %w", err)
	}
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)
	return p, nil
}

// Save writes p to path, inferring its format from the file extension (png,
// pdf, svg, ...), sized w by h.
func Save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("diagplot: failed to save plot to %s: %w", path, err)
	}
	return nil
}
