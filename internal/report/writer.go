package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/soundscape-lab/soundscape/internal/checkpoint"
	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/window"
)

const DefaultWindowSize = 3.0

// Timing maps a model name to the sample rate and hop length its sequences
// were produced with. Window size and boundary come from the Writer.
type Timing map[string]window.Params

// Writer appends summary and detail rows to the two CSV sinks.
type Writer struct {
	dir        string
	ledger     Ledger
	runID      string
	threshold  *float64
	windowSize float64
	boundary   window.Boundary

	mu sync.Mutex
}

type Option func(*Writer)

// WithThreshold keeps only detail rows with confidence >= t.
func WithThreshold(t float64) Option {
	return func(w *Writer) {
		w.threshold = &t
	}
}

func WithWindowSize(seconds float64) Option {
	return func(w *Writer) {
		w.windowSize = seconds
	}
}

func WithBoundary(b window.Boundary) Option {
	return func(w *Writer) {
		w.boundary = b
	}
}

// NewWriter creates dir and both sinks with their header row if they do not
// exist yet. Existing sinks are appended to. A sink that has to be created
// starts with an empty ledger, so deleting a CSV regenerates its rows.
func NewWriter(dir string, ledger Ledger, opts ...Option) (*Writer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("report ledger is required")
	}
	w := &Writer{
		dir:        dir,
		ledger:     ledger,
		windowSize: DefaultWindowSize,
		boundary:   window.Inclusive,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.windowSize <= 0 {
		return nil, errs.New(errs.ErrConfig, fmt.Sprintf("window size must be positive, got %v", w.windowSize))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(err, errs.ErrFileWrite, "create output directory").WithContext("path", dir)
	}
	sinks := []struct {
		path   string
		header []string
		reset  func(context.Context) error
	}{
		{w.SummaryPath(), summaryHeader, ledger.ResetSummaries},
		{w.DetailPath(), detailHeader, ledger.ResetDetails},
	}
	for _, sink := range sinks {
		fresh, err := needsHeader(sink.path)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrFileWrite, "initialise report sink").WithContext("path", sink.path)
		}
		if !fresh {
			continue
		}
		// the ledger is cleared before the header exists, so a failure here
		// is retried on the next start
		if err := sink.reset(context.Background()); err != nil {
			return nil, errs.Wrap(err, errs.ErrFileWrite, "reset row ledger").WithContext("path", sink.path)
		}
		if err := appendRows(sink.path, [][]string{sink.header}); err != nil {
			return nil, errs.Wrap(err, errs.ErrFileWrite, "initialise report sink").WithContext("path", sink.path)
		}
	}
	return w, nil
}

func (w *Writer) SummaryPath() string {
	return filepath.Join(w.dir, SummaryFileName)
}

func (w *Writer) DetailPath() string {
	return filepath.Join(w.dir, DetailFileName)
}

// SetRunID changes the run tag for subsequent emissions.
func (w *Writer) SetRunID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runID = id
}

// Emit reacts to a changed FileResult. It appends the summary row the first
// time both models are present, and the detail rows of every present model
// that pass the threshold. Keys already in the ledger are never appended
// again, so Emit is idempotent for an unchanged result.
func (w *Writer) Emit(ctx context.Context, fileID string, result checkpoint.FileResult, timing Timing) (Emitted, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out Emitted

	summary, err := w.pendingSummary(ctx, fileID, result)
	if err != nil {
		return out, err
	}
	details, err := w.pendingDetails(ctx, fileID, result, timing)
	if err != nil {
		return out, err
	}

	if summary != nil {
		if err := appendRows(w.SummaryPath(), [][]string{summary.record()}); err != nil {
			return out, errs.Wrap(err, errs.ErrFileWrite, "append summary row").
				WithContext("path", w.SummaryPath()).
				WithContext("file", fileID)
		}
	}
	if len(details) > 0 {
		records := make([][]string, 0, len(details))
		for _, row := range details {
			records = append(records, row.record())
		}
		if err := appendRows(w.DetailPath(), records); err != nil {
			return out, errs.Wrap(err, errs.ErrFileWrite, "append detail rows").
				WithContext("path", w.DetailPath()).
				WithContext("file", fileID)
		}
	}

	var summaries []SummaryRow
	if summary != nil {
		summaries = []SummaryRow{*summary}
	}
	if err := w.ledger.RecordEmitted(ctx, w.runID, summaries, details); err != nil {
		return out, errs.Wrap(err, errs.ErrFileWrite, "record emitted rows").WithContext("file", fileID)
	}

	out.Summary = summary
	out.Details = details
	return out, nil
}

func (w *Writer) pendingSummary(ctx context.Context, fileID string, result checkpoint.FileResult) (*SummaryRow, error) {
	biotic, okB := result[classifier.Biotic]
	anthrop, okA := result[classifier.Anthrop]
	if !okB || !okA {
		return nil, nil
	}
	done, err := w.ledger.EmittedSummary(ctx, fileID)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrFileWrite, "query row ledger").WithContext("file", fileID)
	}
	if done {
		return nil, nil
	}
	return &SummaryRow{
		FileID:      fileID,
		BioticMean:  window.Mean(biotic),
		AnthropMean: window.Mean(anthrop),
	}, nil
}

// pendingDetails returns the not yet emitted detail rows in window-major
// order, models ordered as classifier.Models.
func (w *Writer) pendingDetails(ctx context.Context, fileID string, result checkpoint.FileResult, timing Timing) ([]DetailRow, error) {
	perModel := make([][]window.Window, 0, len(classifier.Models))
	maxWindows := 0
	for _, model := range classifier.Models {
		seq, ok := result[model]
		if !ok {
			perModel = append(perModel, nil)
			continue
		}
		p, ok := timing[model]
		if !ok {
			return nil, errs.New(errs.ErrConfig, "missing timing for model").
				WithContext("model", model).
				WithContext("file", fileID)
		}
		p.Size = w.windowSize
		p.Boundary = w.boundary

		windows, err := window.Aggregate(model, seq, p)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrConfig, "aggregate windows").
				WithContext("model", model).
				WithContext("file", fileID)
		}

		emitted, err := w.ledger.EmittedDetails(ctx, fileID, model)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrFileWrite, "query row ledger").WithContext("file", fileID)
		}
		if len(windows) > 0 {
			maxWindows = max(maxWindows, windows[len(windows)-1].Index+1)
		}
		kept := make([]window.Window, 0, len(windows))
		for _, win := range windows {
			if emitted[win.Index] || !w.passes(win.Confidence) {
				continue
			}
			kept = append(kept, win)
		}
		perModel = append(perModel, kept)
	}

	// windows carry their own index, so merge by index rather than position
	cursor := make([]int, len(perModel))
	var rows []DetailRow
	for idx := 0; idx < maxWindows; idx++ {
		for m, windows := range perModel {
			if cursor[m] >= len(windows) || windows[cursor[m]].Index != idx {
				continue
			}
			win := windows[cursor[m]]
			cursor[m]++
			rows = append(rows, DetailRow{
				FileID:      fileID,
				WindowIndex: win.Index,
				Start:       win.Start,
				End:         win.End,
				Model:       win.Model,
				Confidence:  win.Confidence,
			})
		}
	}
	return rows, nil
}

func (w *Writer) passes(confidence float64) bool {
	return w.threshold == nil || confidence >= *w.threshold
}

// needsHeader reports whether path is missing or empty.
func needsHeader(path string) (bool, error) {
	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return true, nil
	case err != nil:
		return false, err
	}
	return fi.Size() == 0, nil
}

// appendRows appends records to path and syncs the file before returning.
func appendRows(path string, records [][]string) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	cw := csv.NewWriter(f)
	if err = cw.WriteAll(records); err != nil {
		return err
	}
	return f.Sync()
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
