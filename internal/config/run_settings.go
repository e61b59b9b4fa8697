package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/soundscape-lab/soundscape/internal/errs"
)

const RunSettingsFileName = "run_settings.json"

// RunSettings are the parameters that shape the rows already written to an
// output directory. Appending to the same sinks with different values would
// mix incompatible rows, so they are pinned on first use.
type RunSettings struct {
	WindowSize float64  `json:"window_size"`
	Boundary   string   `json:"boundary"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

func (c *Config) RunSettings() RunSettings {
	return RunSettings{
		WindowSize: c.Window.Size,
		Boundary:   c.Window.BoundaryMode().String(),
		Threshold:  c.Window.Threshold,
	}
}

func (s RunSettings) Equal(o RunSettings) bool {
	if math.Abs(s.WindowSize-o.WindowSize) > 1e-9 || s.Boundary != o.Boundary {
		return false
	}
	if (s.Threshold == nil) != (o.Threshold == nil) {
		return false
	}
	return s.Threshold == nil || math.Abs(*s.Threshold-*o.Threshold) <= 1e-9
}

func (s RunSettings) String() string {
	th := "none"
	if s.Threshold != nil {
		th = fmt.Sprint(*s.Threshold)
	}
	return fmt.Sprintf("window=%vs boundary=%s threshold=%s", s.WindowSize, s.Boundary, th)
}

func LoadRunSettingsFile(path string) (RunSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSettings{}, err
	}
	var settings RunSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RunSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRunSettingsFile(path string, settings RunSettings) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// PinRunSettings records settings in outputDir on first use and rejects
// later runs whose settings differ from the pinned ones.
func PinRunSettings(outputDir string, settings RunSettings) error {
	path := filepath.Join(outputDir, RunSettingsFileName)
	pinned, err := LoadRunSettingsFile(path)
	switch {
	case os.IsNotExist(err):
		if err := WriteRunSettingsFile(path, settings); err != nil {
			return errs.Wrap(err, errs.ErrFileWrite, "write run settings").WithContext("path", path)
		}
		return nil
	case err != nil:
		return errs.Wrap(err, errs.ErrCorruption, "read run settings").WithContext("path", path)
	}
	if !pinned.Equal(settings) {
		return errs.New(errs.ErrConfig, "output directory was produced with different settings").
			WithContext("path", path).
			WithContext("pinned", pinned.String()).
			WithContext("requested", settings.String())
	}
	return nil
}
