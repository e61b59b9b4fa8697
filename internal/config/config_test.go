package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/window"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("SOUNDSCAPE_INPUT_DIR", "/data/recordings")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/recordings", cfg.Input.Dir)
	assert.Equal(t, []string{".wav"}, cfg.Input.Extensions)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.False(t, cfg.Output.SavePlots)
	assert.Equal(t, 3.0, cfg.Window.Size)
	assert.Equal(t, window.Inclusive, cfg.Window.BoundaryMode())
	assert.Nil(t, cfg.Window.Threshold)
	assert.Equal(t, "tf_models", cfg.Classifier.ModelsDir)
	assert.Equal(t, "http://localhost:8501", cfg.Classifier.URL)
	assert.Equal(t, 300, cfg.Classifier.Timeout)
	assert.Empty(t, cfg.System.CronExpr)
	assert.Equal(t, "info", cfg.System.LogLevel)
}

func TestNewFromEnv_Environment(t *testing.T) {
	t.Setenv("SOUNDSCAPE_INPUT_DIR", "in")
	t.Setenv("SOUNDSCAPE_OUTPUT_DIR", "out")
	t.Setenv("SOUNDSCAPE_EXTENSIONS", ".wav, .WAVE")
	t.Setenv("SOUNDSCAPE_SAVE_PLOTS", "yes")
	t.Setenv("SOUNDSCAPE_WINDOW_SIZE", "1.5")
	t.Setenv("SOUNDSCAPE_WINDOW_BOUNDARY", "partition")
	t.Setenv("SOUNDSCAPE_CONFIDENCE_THRESHOLD", "0.25")
	t.Setenv("CLASSIFIER_TIMEOUT", "12")
	t.Setenv("SOUNDSCAPE_SCHEDULE", "@hourly")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, []string{".wav", ".WAVE"}, cfg.Input.Extensions)
	assert.True(t, cfg.Output.SavePlots)
	assert.Equal(t, 1.5, cfg.Window.Size)
	assert.Equal(t, window.Partition, cfg.Window.BoundaryMode())
	require.NotNil(t, cfg.Window.Threshold)
	assert.Equal(t, 0.25, *cfg.Window.Threshold)
	assert.Equal(t, 12, cfg.Classifier.Timeout)
	assert.Equal(t, "@hourly", cfg.System.CronExpr)
}

func TestNewFromEnv_OptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("SOUNDSCAPE_INPUT_DIR", "env-in")
	t.Setenv("SOUNDSCAPE_SAVE_PLOTS", "yes")

	cfg, err := NewFromEnv(
		WithInputDir("flag-in"),
		WithOutputDir("flag-out"),
		WithSavePlots(false),
		WithWindowSize(2),
		WithThreshold(0.9),
		WithModelsDir("models"),
		WithClassifierURL("http://models:9000"),
		WithSchedule("*/10 * * * *"),
		WithLogLevel("debug"),
		WithBoundary("partition"),
	)
	require.NoError(t, err)
	assert.Equal(t, "flag-in", cfg.Input.Dir)
	assert.Equal(t, "flag-out", cfg.Output.Dir)
	assert.False(t, cfg.Output.SavePlots)
	assert.Equal(t, 2.0, cfg.Window.Size)
	assert.Equal(t, 0.9, *cfg.Window.Threshold)
	assert.Equal(t, "models", cfg.Classifier.ModelsDir)
	assert.Equal(t, "http://models:9000", cfg.Classifier.URL)
	assert.Equal(t, "*/10 * * * *", cfg.System.CronExpr)
	assert.Equal(t, "debug", cfg.System.LogLevel)
	assert.Equal(t, window.Partition, cfg.Window.BoundaryMode())
}

func TestNewFromEnv_Validation(t *testing.T) {
	t.Setenv("SOUNDSCAPE_INPUT_DIR", "")
	t.Setenv("SOUNDSCAPE_CONFIDENCE_THRESHOLD", "")
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "missing input", opts: []Option{WithInputDir("")}},
		{name: "zero window", opts: []Option{WithInputDir("in"), WithWindowSize(0)}},
		{name: "negative window", opts: []Option{WithInputDir("in"), WithWindowSize(-1)}},
		{name: "threshold above one", opts: []Option{WithInputDir("in"), WithThreshold(1.5)}},
		{name: "negative threshold", opts: []Option{WithInputDir("in"), WithThreshold(-0.1)}},
		{name: "bad boundary", opts: []Option{WithInputDir("in"), WithBoundary("overlap")}},
		{name: "bad schedule", opts: []Option{WithInputDir("in"), WithSchedule("sometimes")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromEnv(tt.opts...)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrConfig), "got %v", err)
		})
	}
}

func TestParseYesNo(t *testing.T) {
	for in, want := range map[string]bool{"yes": true, "YES": true, "no": false, "true": true, "0": false} {
		got, ok := ParseYesNo(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseYesNo("maybe")
	assert.False(t, ok)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOUNDSCAPE_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("SOUNDSCAPE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("SOUNDSCAPE_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("SOUNDSCAPE_TEST_DOTENV"))
}

func TestPinRunSettings(t *testing.T) {
	dir := t.TempDir()
	th := 0.5
	settings := RunSettings{WindowSize: 3, Boundary: "partition", Threshold: &th}

	require.NoError(t, PinRunSettings(dir, settings))
	require.NoError(t, PinRunSettings(dir, settings))

	got, err := LoadRunSettingsFile(filepath.Join(dir, RunSettingsFileName))
	require.NoError(t, err)
	assert.True(t, got.Equal(settings))

	changed := settings
	changed.WindowSize = 1
	err = PinRunSettings(dir, changed)
	assert.True(t, errs.Is(err, errs.ErrConfig))

	noThreshold := settings
	noThreshold.Threshold = nil
	assert.True(t, errs.Is(PinRunSettings(dir, noThreshold), errs.ErrConfig))

	require.NoError(t, os.WriteFile(filepath.Join(dir, RunSettingsFileName), []byte("{"), 0o644))
	assert.True(t, errs.Is(PinRunSettings(dir, settings), errs.ErrCorruption))
}
