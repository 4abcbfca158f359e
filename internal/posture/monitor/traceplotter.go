package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/security"
)

// ErrEmptyTrace is returned when there is nothing to plot.
var ErrEmptyTrace = errors.New("trace is empty")

// traceTypes fixes the legend order of the verdict plot.
var traceTypes = []classify.Type{
	classify.GoodPosture,
	classify.Slouching,
	classify.LookingAway,
	classify.LookingDown,
	classify.NoPersonType,
}

// TracePlotter writes PNG plots of a sequence of analyses, one point per
// frame.
type TracePlotter struct {
	outputDir string
}

// NewTracePlotter creates a plotter writing into outputDir.
func NewTracePlotter(outputDir string) *TracePlotter {
	return &TracePlotter{outputDir: outputDir}
}

// GetOutputDir returns the output directory for plots.
func (tp *TracePlotter) GetOutputDir() string {
	return tp.outputDir
}

// Plot renders <name>_angles.png and <name>_verdicts.png and returns their
// paths. name is sanitized before use.
func (tp *TracePlotter) Plot(name string, trace []detector.Analysis) ([]string, error) {
	if len(trace) == 0 {
		return nil, ErrEmptyTrace
	}
	if err := os.MkdirAll(tp.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	angles, err := anglesPlot(name, trace)
	if err != nil {
		return nil, err
	}
	verdicts, err := verdictsPlot(name, trace)
	if err != nil {
		return nil, err
	}

	anglesFile, err := security.OutputPath(tp.outputDir, name, "_angles.png")
	if err != nil {
		return nil, err
	}
	if err := angles.Save(14*vg.Inch, 6*vg.Inch, anglesFile); err != nil {
		return nil, fmt.Errorf("failed to save angles plot: %w", err)
	}
	verdictsFile, err := security.OutputPath(tp.outputDir, name, "_verdicts.png")
	if err != nil {
		return nil, err
	}
	if err := verdicts.Save(14*vg.Inch, 4*vg.Inch, verdictsFile); err != nil {
		return nil, fmt.Errorf("failed to save verdicts plot: %w", err)
	}
	return []string{anglesFile, verdictsFile}, nil
}

func anglesPlot(name string, trace []detector.Analysis) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Posture Angles", name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Degrees"

	series := make([]plotter.XYs, len(metricSeries))
	for i := range series {
		series[i] = make(plotter.XYs, len(trace))
	}
	for i, a := range trace {
		for j, v := range a.Metrics.Angles() {
			series[j][i] = plotter.XY{X: float64(i), Y: v}
		}
	}

	colors := generateColors(len(metricSeries))
	for i, pts := range series {
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		l.Color = colors[i]
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(metricSeries[i], l)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

func verdictsPlot(name string, trace []detector.Analysis) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Verdict Confidence", name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Confidence"
	p.Y.Min, p.Y.Max = 0, 1

	byType := make(map[classify.Type]plotter.XYs)
	for i, a := range trace {
		byType[a.Type] = append(byType[a.Type], plotter.XY{X: float64(i), Y: a.Confidence})
	}

	colors := generateColors(len(traceTypes))
	for i, t := range traceTypes {
		pts := byType[t]
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(string(t), s)
	}
	return p, nil
}

// generateColors spreads n colours evenly around the hue wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
