package plot

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/report"
)

func TestRenderer_Plot(t *testing.T) {
	out := t.TempDir()
	r := NewRenderer(out)
	result := checkpoint.FileResult{
		classifier.Biotic:  {0.1, 0.9, 0.2, 0.8},
		classifier.Anthrop: {0.5, 0.4, 0.3},
	}
	timing := report.Timing{
		classifier.Biotic:  {SampleRate: 1024, HopLength: 512},
		classifier.Anthrop: {SampleRate: 2048, HopLength: 512},
	}

	path, err := r.Plot("site1/rec.wav", result, timing)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, DirName, "rec.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Greater(t, cfg.Width, cfg.Height)
}

func TestRenderer_MissingTiming(t *testing.T) {
	r := NewRenderer(t.TempDir())
	_, err := r.Plot("a.wav", checkpoint.FileResult{classifier.Biotic: {0.5}}, report.Timing{})
	assert.True(t, errs.Is(err, errs.ErrConfig))
}

func TestSeries(t *testing.T) {
	pts := series([]float32{0, 0.5, 1}, 2)
	require.Len(t, pts, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{pts[0].X, pts[1].X, pts[2].X})
	assert.Equal(t, 0.5, pts[1].Y)

	single := series([]float32{0.25}, 0.5)
	assert.Zero(t, single[0].X)
}
