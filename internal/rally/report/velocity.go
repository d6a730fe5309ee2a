package report

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("report: no velocity samples")

// VelocityPlot builds the wrist-velocity plot with the detection threshold
// and the accepted proposal peaks.
func VelocityPlot(series l2proposals.VelocitySeries, threshold float64, proposals []l2proposals.Proposal) (*plot.Plot, error) {
	if len(series.Frames) == 0 {
		return nil, ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = "Dominant wrist velocity"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Velocity (px/s)"

	pts := make(plotter.XYs, len(series.Frames))
	for i, f := range series.Frames {
		pts[i] = plotter.XY{X: float64(f), Y: series.Values[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("velocity line: %w", err)
	}
	line.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("velocity", line)

	thr, err := plotter.NewLine(plotter.XYs{
		{X: pts[0].X, Y: threshold},
		{X: pts[len(pts)-1].X, Y: threshold},
	})
	if err != nil {
		return nil, fmt.Errorf("threshold line: %w", err)
	}
	thr.Color = color.RGBA{R: 255, G: 82, B: 82, A: 255}
	thr.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(thr)
	p.Legend.Add(fmt.Sprintf("threshold %.0f", threshold), thr)

	if len(proposals) > 0 {
		peaks := make(plotter.XYs, len(proposals))
		for i, pr := range proposals {
			peaks[i] = plotter.XY{X: float64(pr.Peak), Y: pr.MaxVelocity}
		}
		sc, err := plotter.NewScatter(peaks)
		if err != nil {
			return nil, fmt.Errorf("peak markers: %w", err)
		}
		sc.Color = color.RGBA{R: 53, G: 183, B: 121, A: 255}
		sc.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("proposal peaks", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveVelocityPlot writes the velocity plot to path; the extension picks
// the format (.png, .svg, .pdf).
func SaveVelocityPlot(path string, series l2proposals.VelocitySeries, threshold float64, proposals []l2proposals.Proposal) error {
	p, err := VelocityPlot(series, threshold, proposals)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save velocity plot: %w", err)
	}
	return nil
}
