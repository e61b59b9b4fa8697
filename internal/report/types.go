package report

import (
	"context"

	"github.com/soundscape-lab/soundscape/internal/classifier"
)

const (
	SummaryFileName = "prediction_summaries.csv"
	DetailFileName  = "tabular_predictions.csv"
)

var (
	summaryHeader = []string{"Filename", "Average biotic sound", "Average anthropogenic sound"}
	detailHeader  = []string{"Filename", "Start (s)", "End (s)", "Class", "Description", "Confidence"}
)

// SummaryRow is the whole-file mean of both models.
type SummaryRow struct {
	FileID      string
	BioticMean  float64
	AnthropMean float64
}

func (r SummaryRow) record() []string {
	return []string{r.FileID, formatFloat(r.BioticMean, 3), formatFloat(r.AnthropMean, 3)}
}

// DetailRow is one (window, model) aggregate that passed the threshold.
type DetailRow struct {
	FileID      string
	WindowIndex int
	Start       float64
	End         float64
	Model       string
	Confidence  float64
}

func (r DetailRow) Description() string {
	return classifier.Description(r.Model)
}

func (r DetailRow) record() []string {
	return []string{
		r.FileID,
		formatFloat(r.Start, 1),
		formatFloat(r.End, 1),
		r.Model,
		r.Description(),
		formatFloat(r.Confidence, 4),
	}
}

// Emitted reports what a single Emit call appended.
type Emitted struct {
	Summary *SummaryRow
	Details []DetailRow
}

// Ledger remembers which rows have already been appended to the sinks so
// that re-running the pipeline never appends the same key twice.
type Ledger interface {
	EmittedSummary(ctx context.Context, fileID string) (bool, error)
	EmittedDetails(ctx context.Context, fileID, model string) (map[int]bool, error)
	RecordEmitted(ctx context.Context, runID string, summaries []SummaryRow, details []DetailRow) error
	// ResetSummaries and ResetDetails forget every row of one sink. They are
	// called when that sink is created afresh.
	ResetSummaries(ctx context.Context) error
	ResetDetails(ctx context.Context) error
}
