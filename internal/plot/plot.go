// Package plot renders the per-frame activity of both models for one file.
package plot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/report"
	"github.com/soundscape-lab/soundscape/pkg/file"
)

const DirName = "plots"

var colors = map[string]color.Color{
	classifier.Anthrop: color.RGBA{B: 255, A: 255},
	classifier.Biotic:  color.RGBA{G: 128, A: 255},
}

// Renderer writes one PNG per file into <output>/plots.
type Renderer struct {
	dir    string
	width  vg.Length
	height vg.Length
	xMax   float64
	yMax   float64
}

func NewRenderer(outputDir string) *Renderer {
	return &Renderer{
		dir:    filepath.Join(outputDir, DirName),
		width:  15 * vg.Inch,
		height: 5 * vg.Inch,
		xMax:   60,
		yMax:   1.2,
	}
}

func (r *Renderer) Dir() string {
	return r.dir
}

// Path is where the plot of fileID is written. Files with the same base name
// in different directories share a plot path; the later one wins.
func (r *Renderer) Path(fileID string) string {
	return filepath.Join(r.dir, file.SiblingName(fileID, ".png"))
}

// Plot draws every model in result and returns the written path.
func (r *Renderer) Plot(fileID string, result checkpoint.FileResult, timing report.Timing) (string, error) {
	p := plot.New()
	p.Title.Text = fileID
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Activity level"
	p.X.Min, p.X.Max = 0, r.xMax
	p.Y.Min, p.Y.Max = 0, r.yMax
	p.Legend.Top = true

	for _, model := range classifier.Models {
		seq, ok := result[model]
		if !ok {
			continue
		}
		t, ok := timing[model]
		if !ok || t.SampleRate <= 0 {
			return "", errs.New(errs.ErrConfig, "missing timing for model").
				WithContext("model", model).
				WithContext("file", fileID)
		}

		line, err := plotter.NewLine(series(seq, t.TotalDuration(len(seq))))
		if err != nil {
			return "", fmt.Errorf("build %s series: %w", model, err)
		}
		line.Color = colors[model]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(model, line)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", errs.Wrap(err, errs.ErrFileWrite, "create plot directory").WithContext("path", r.dir)
	}
	path := r.Path(fileID)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", errs.Wrap(err, errs.ErrFileWrite, "save plot").WithContext("path", path)
	}
	return path, nil
}

// series spreads n confidences evenly over [0, length].
func series(seq []float32, length float64) plotter.XYs {
	pts := make(plotter.XYs, len(seq))
	for i, v := range seq {
		x := 0.0
		if len(seq) > 1 {
			x = float64(i) * length / float64(len(seq)-1)
		}
		pts[i].X = x
		pts[i].Y = float64(v)
	}
	return pts
}
