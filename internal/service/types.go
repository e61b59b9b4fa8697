package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/persistence"
	"github.com/soundscape-lab/soundscape/internal/report"
	"github.com/soundscape-lab/soundscape/internal/window"
)

// Phase is the pipeline state. A run moves through
// Idle → Enumerating → (ModelLoop → FileLoop)* → Finalizing → Done.
type Phase int

const (
	Idle Phase = iota
	Enumerating
	ModelLoop
	FileLoop
	Finalizing
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Enumerating:
		return "enumerating"
	case ModelLoop:
		return "model-loop"
	case FileLoop:
		return "file-loop"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Emitter appends report rows for a changed file result.
type Emitter interface {
	Emit(ctx context.Context, fileID string, result checkpoint.FileResult, timing report.Timing) (report.Emitted, error)
	SetRunID(id string)
}

// Plotter renders a file result once both models are present.
type Plotter interface {
	Plot(fileID string, result checkpoint.FileResult, timing report.Timing) (string, error)
}

// RunStore keeps a history of pipeline runs.
type RunStore interface {
	StartRun(ctx context.Context, run persistence.Run) error
	FinishRun(ctx context.Context, run persistence.Run) error
}

// TimingSource returns the frame timing of a model without loading it.
type TimingSource func(model string) (window.Params, error)

// AudioFile is one enumerated recording.
type AudioFile struct {
	ID   string
	Path string
}

// RunSummary reports what one Run did.
type RunSummary struct {
	Run         string
	Files       int
	Classified  map[string]int
	Skipped     int
	Failed      int
	Reconciled  int
	SummaryRows int
	DetailRows  int
	Plots       int
}

func newRunSummary(id string) *RunSummary {
	return &RunSummary{Run: id, Classified: make(map[string]int)}
}

func (s *RunSummary) addEmitted(e report.Emitted) {
	if e.Summary != nil {
		s.SummaryRows++
	}
	s.DetailRows += len(e.Details)
}

func (s *RunSummary) classifiedTotal() int {
	n := 0
	for _, c := range s.Classified {
		n += c
	}
	return n
}

func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files", s.Files)
	for _, model := range classifier.Models {
		fmt.Fprintf(&b, ", %s classified %d", model, s.Classified[model])
	}
	fmt.Fprintf(&b, ", %d skipped, %d failed, %d summary rows, %d detail rows", s.Skipped, s.Failed, s.SummaryRows, s.DetailRows)
	return b.String()
}
