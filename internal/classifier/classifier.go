// Package classifier adapts the two soundscape models to a common interface
// that turns one audio file into a per-frame confidence sequence.
package classifier

import (
	"context"
	"fmt"
)

const (
	Biotic  = "biotic"
	Anthrop = "anthrop"

	// HopLength is the number of audio samples between consecutive frames.
	// Both models are trained with it and the window timing depends on it.
	HopLength = 512
)

// Models lists the models in the order they run and are reported.
var Models = []string{Biotic, Anthrop}

// Description is the human-readable class label used in the detail report.
func Description(model string) string {
	switch model {
	case Biotic:
		return "Biotic sound"
	case Anthrop:
		return "Anthropogenic sound"
	default:
		return model
	}
}

// Valid reports whether name is one of Models.
func Valid(name string) bool {
	for _, m := range Models {
		if m == name {
			return true
		}
	}
	return false
}

// Classifier produces frame-level confidences in [0,1] for one audio file.
// Frame i covers samples starting at i*HopLength().
type Classifier interface {
	Name() string
	SampleRate() int
	HopLength() int
	Classify(ctx context.Context, path string) ([]float32, error)
}

// Loader loads a model by name.
type Loader func(name string) (Classifier, error)

func unknownModel(name string) error {
	return fmt.Errorf("unknown model %q, expected one of %v", name, Models)
}
