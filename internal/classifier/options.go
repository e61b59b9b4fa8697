package classifier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/soundscape-lab/soundscape/internal/errs"
)

const (
	OptionsFileName   = "network_opts.yaml"
	DefaultWeightFile = "weights_99.pkl-1"
)

// ModelConfig is the parsed network_opts.yaml of one model directory.
type ModelConfig struct {
	Name       string
	Dir        string
	SampleRate int
	HopLength  int
	Weights    string
	// Options holds every other key and is forwarded to the model server.
	Options map[string]any
}

func (c ModelConfig) WeightsPath() string {
	return filepath.Join(c.Dir, c.Weights)
}

// LoadModelConfig reads <root>/<name>/network_opts.yaml. Any failure is an
// ErrModelLoad error.
func LoadModelConfig(root, name string) (ModelConfig, error) {
	if !Valid(name) {
		return ModelConfig{}, errs.Wrap(unknownModel(name), errs.ErrModelLoad, "load model options").
			WithContext("model", name)
	}
	dir := filepath.Join(root, name)
	path := filepath.Join(dir, OptionsFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, errs.Wrap(err, errs.ErrModelLoad, "read model options").
			WithContext("model", name).
			WithContext("path", path)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ModelConfig{}, errs.Wrap(err, errs.ErrModelLoad, "parse model options").
			WithContext("model", name).
			WithContext("path", path)
	}

	cfg := ModelConfig{
		Name:      name,
		Dir:       dir,
		HopLength: HopLength,
		Weights:   DefaultWeightFile,
		Options:   make(map[string]any),
	}
	fail := func(msg string) (ModelConfig, error) {
		return ModelConfig{}, errs.New(errs.ErrModelLoad, msg).
			WithContext("model", name).
			WithContext("path", path)
	}

	sr, ok := intValue(raw["sample_rate"])
	if !ok || sr <= 0 {
		return fail("sample_rate must be a positive integer")
	}
	cfg.SampleRate = sr

	if v, present := raw["hop_length"]; present {
		hop, ok := intValue(v)
		if !ok || hop != HopLength {
			return fail(fmt.Sprintf("hop_length must be %d", HopLength))
		}
	}

	if v, present := raw["weights_file"]; present {
		s, ok := v.(string)
		if !ok || s == "" {
			return fail("weights_file must be a non-empty string")
		}
		cfg.Weights = s
	}

	for k, v := range raw {
		switch k {
		case "sample_rate", "hop_length", "weights_file":
		default:
			cfg.Options[k] = v
		}
	}

	if _, err := os.Stat(cfg.WeightsPath()); err != nil {
		return ModelConfig{}, errs.Wrap(err, errs.ErrModelLoad, "model weights not found").
			WithContext("model", name).
			WithContext("path", cfg.WeightsPath())
	}
	return cfg, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
