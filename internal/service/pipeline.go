package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/library"
	"github.com/soundscape-lab/soundscape/internal/persistence"
	"github.com/soundscape-lab/soundscape/internal/report"
	"github.com/soundscape-lab/soundscape/internal/window"
	"github.com/soundscape-lab/soundscape/pkg/log"
)

// Deps are the collaborators of a Pipeline. Plotter, Runs and Timing are
// optional.
type Deps struct {
	Scanner    *library.Scanner
	Checkpoint *checkpoint.Store
	Report     Emitter
	Load       classifier.Loader
	Plotter    Plotter
	Runs       RunStore
	// Timing resolves a model's frame timing for files that are already
	// checkpointed, so reconciling them does not need a loaded model.
	// Without it the model is loaded.
	Timing TimingSource
}

// Pipeline classifies every recording under the scanner root with every
// model, resuming from the checkpoint store.
//
// A Pipeline runs one batch at a time; concurrent Run calls are serialized.
type Pipeline struct {
	deps  Deps
	newID func() string

	runMu sync.Mutex

	mu       sync.Mutex
	phase    Phase
	adapters map[string]classifier.Classifier
	timings  map[string]window.Params
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Scanner == nil:
		return nil, fmt.Errorf("pipeline scanner is required")
	case deps.Checkpoint == nil:
		return nil, fmt.Errorf("pipeline checkpoint store is required")
	case deps.Report == nil:
		return nil, fmt.Errorf("pipeline report writer is required")
	case deps.Load == nil:
		return nil, fmt.Errorf("pipeline classifier loader is required")
	}
	return &Pipeline{
		deps:  deps,
		newID: uuid.NewString,
		phase: Idle,
	}, nil
}

func (p *Pipeline) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Pipeline) setPhase(ph Phase) {
	p.mu.Lock()
	prev := p.phase
	p.phase = ph
	p.mu.Unlock()
	if prev != ph {
		log.Debug("Pipeline phase %s -> %s", prev, ph)
	}
}

// Run performs one batch pass. Zero recordings is not an error. Recoverable
// per-file failures are counted in the summary; anything else stops the run
// and leaves the checkpoint as a valid resume point.
func (p *Pipeline) Run(ctx context.Context) (summary *RunSummary, err error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	// adapters are loaded at most once per run
	p.mu.Lock()
	p.adapters = make(map[string]classifier.Classifier)
	p.timings = make(map[string]window.Params)
	p.mu.Unlock()

	runID := p.newID()
	summary = newRunSummary(runID)
	p.setPhase(Enumerating)
	defer func() {
		if err != nil {
			p.setPhase(Idle)
		}
	}()

	files, err := p.enumerate(ctx)
	if err != nil {
		return summary, err
	}
	summary.Files = len(files)
	if len(files) == 0 {
		log.Info("No audio files found in %s", p.deps.Scanner.Root())
		p.setPhase(Done)
		return summary, nil
	}
	log.Info("Found %d audio files in %s", len(files), p.deps.Scanner.Root())

	state, err := p.deps.Checkpoint.Load()
	if err != nil {
		return summary, err
	}
	if n := len(state); n > 0 {
		log.Info("Resuming from checkpoint with %d files", n)
	}

	p.deps.Report.SetRunID(runID)
	if err := p.startRun(ctx, runID); err != nil {
		return summary, err
	}
	defer func() {
		p.finishRun(ctx, summary, err)
	}()

	if err := p.reconcile(ctx, state, summary); err != nil {
		return summary, err
	}

	for _, model := range classifier.Models {
		if err := p.runModel(ctx, model, files, state, summary); err != nil {
			return summary, err
		}
	}

	p.setPhase(Finalizing)
	if err := p.deps.Checkpoint.Finalize(state); err != nil {
		return summary, err
	}
	log.Info("Predictions saved to %s", p.deps.Checkpoint.FinalPath())

	p.setPhase(Done)
	return summary, nil
}

func (p *Pipeline) enumerate(ctx context.Context) ([]AudioFile, error) {
	root := p.deps.Scanner.Root()
	seq, err := p.deps.Scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := library.Collect(seq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(err, errs.ErrNotFound, "enumerate audio files").WithContext("root", root)
	}
	files := make([]AudioFile, 0, len(paths))
	for _, path := range paths {
		id, err := library.FileID(root, path)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrNotFound, "derive file id").WithContext("path", path)
		}
		files = append(files, AudioFile{ID: id, Path: path})
	}
	return files, nil
}

// reconcile re-emits every checkpointed file so rows lost between a
// checkpoint save and the matching emission are written. The ledger keeps
// it from duplicating rows that did make it.
func (p *Pipeline) reconcile(ctx context.Context, state checkpoint.State, summary *RunSummary) error {
	for _, id := range state.FileIDs() {
		timing, err := p.timingFor(state[id])
		if err != nil {
			return err
		}
		emitted, err := p.deps.Report.Emit(ctx, id, state[id], timing)
		if err != nil {
			return err
		}
		if emitted.Summary != nil || len(emitted.Details) > 0 {
			summary.Reconciled++
			summary.addEmitted(emitted)
			log.Warn("Recovered %d missing report rows for %s", len(emitted.Details), id)
		}
	}
	return nil
}

func (p *Pipeline) runModel(ctx context.Context, model string, files []AudioFile, state checkpoint.State, summary *RunSummary) error {
	p.setPhase(ModelLoop)

	pending := 0
	for _, f := range files {
		if !checkpoint.IsComplete(state, f.ID, model) {
			pending++
		}
	}
	if pending == 0 {
		log.Info("[%s] All %d files already classified", model, len(files))
		summary.Skipped += len(files)
		return nil
	}

	adapter, err := p.adapter(model)
	if err != nil {
		return err
	}

	p.setPhase(FileLoop)
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if checkpoint.IsComplete(state, f.ID, model) {
			summary.Skipped++
			continue
		}
		log.Info("[%s] Classifying file %d/%d: %s", model, i+1, len(files), f.ID)

		if err := library.IsAudioFile(f.Path, p.deps.Scanner.Extensions()); err != nil {
			log.Warn("[%s] Skipping %s: %v", model, f.ID, err)
			summary.Failed++
			continue
		}

		seq, err := adapter.Classify(ctx, f.Path)
		if err != nil {
			if errs.Recoverable(err) {
				log.Warn("[%s] Skipping %s: %v", model, f.ID, err)
				summary.Failed++
				continue
			}
			return err
		}

		if err := p.deps.Checkpoint.Record(state, f.ID, model, seq); err != nil {
			return err
		}
		summary.Classified[model]++

		if err := p.emit(ctx, f.ID, state[f.ID], summary); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) emit(ctx context.Context, fileID string, result checkpoint.FileResult, summary *RunSummary) error {
	timing, err := p.timingFor(result)
	if err != nil {
		return err
	}
	emitted, err := p.deps.Report.Emit(ctx, fileID, result, timing)
	if err != nil {
		return err
	}
	summary.addEmitted(emitted)

	if p.deps.Plotter == nil || !result.HasAll(classifier.Models...) {
		return nil
	}
	path, err := p.deps.Plotter.Plot(fileID, result, timing)
	if err != nil {
		log.Warn("Failed to plot %s: %v", fileID, err)
		return nil
	}
	summary.Plots++
	log.Debug("Saved plot %s", path)
	return nil
}

// adapter loads model on first use and checks its frame timing.
func (p *Pipeline) adapter(model string) (classifier.Classifier, error) {
	p.mu.Lock()
	c, ok := p.adapters[model]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	log.Info("[%s] Loading model", model)
	c, err := p.deps.Load(model)
	if err != nil {
		if errs.Is(err, errs.ErrModelLoad) {
			return nil, err
		}
		return nil, errs.Wrap(err, errs.ErrModelLoad, "load model").WithContext("model", model)
	}
	if c.HopLength() != classifier.HopLength {
		return nil, errs.New(errs.ErrModelLoad, fmt.Sprintf("hop length %d, expected %d", c.HopLength(), classifier.HopLength)).
			WithContext("model", model)
	}
	if c.SampleRate() <= 0 {
		return nil, errs.New(errs.ErrModelLoad, "model reports no sample rate").WithContext("model", model)
	}

	p.mu.Lock()
	p.adapters[model] = c
	p.timings[model] = window.Params{SampleRate: c.SampleRate(), HopLength: c.HopLength()}
	p.mu.Unlock()
	return c, nil
}

func (p *Pipeline) timing(model string) (window.Params, error) {
	p.mu.Lock()
	t, ok := p.timings[model]
	p.mu.Unlock()
	if ok {
		return t, nil
	}

	if p.deps.Timing == nil {
		if _, err := p.adapter(model); err != nil {
			return window.Params{}, err
		}
		return p.timing(model)
	}
	t, err := p.deps.Timing(model)
	if err != nil {
		return window.Params{}, err
	}
	p.mu.Lock()
	p.timings[model] = t
	p.mu.Unlock()
	return t, nil
}

func (p *Pipeline) timingFor(result checkpoint.FileResult) (report.Timing, error) {
	ret := make(report.Timing, len(result))
	for _, model := range classifier.Models {
		if _, ok := result[model]; !ok {
			continue
		}
		t, err := p.timing(model)
		if err != nil {
			return nil, err
		}
		ret[model] = t
	}
	return ret, nil
}

func (p *Pipeline) startRun(ctx context.Context, runID string) error {
	if p.deps.Runs == nil {
		return nil
	}
	err := p.deps.Runs.StartRun(ctx, persistence.Run{
		ID:        runID,
		InputDir:  p.deps.Scanner.Root(),
		Status:    persistence.RunStatusRunning,
		StartedAt: time.Now(),
	})
	if err != nil {
		return errs.Wrap(err, errs.ErrFileWrite, "record run start").WithContext("run", runID)
	}
	return nil
}

func (p *Pipeline) finishRun(ctx context.Context, summary *RunSummary, runErr error) {
	if p.deps.Runs == nil {
		return
	}
	run := persistence.Run{
		ID:          summary.Run,
		Status:      persistence.RunStatusSuccess,
		Files:       summary.Files,
		Classified:  summary.classifiedTotal(),
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		SummaryRows: summary.SummaryRows,
		DetailRows:  summary.DetailRows,
		FinishedAt:  time.Now(),
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		run.Status = persistence.RunStatusInterrupted
		run.Error = runErr.Error()
	default:
		run.Status = persistence.RunStatusFailed
		run.Error = runErr.Error()
	}
	if err := p.deps.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record run %s: %v", run.ID, err)
	}
}
