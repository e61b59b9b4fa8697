package report

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for writer tests.
type MemoryLedger struct {
	mu        sync.Mutex
	summaries map[string]bool
	details   map[string]map[int]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		summaries: make(map[string]bool),
		details:   make(map[string]map[int]bool),
	}
}

func detailKey(fileID, model string) string {
	return fileID + "\x00" + model
}

func (l *MemoryLedger) EmittedSummary(_ context.Context, fileID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaries[fileID], nil
}

func (l *MemoryLedger) EmittedDetails(_ context.Context, fileID, model string) (map[int]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make(map[int]bool, len(l.details[detailKey(fileID, model)]))
	for k, v := range l.details[detailKey(fileID, model)] {
		ret[k] = v
	}
	return ret, nil
}

func (l *MemoryLedger) RecordEmitted(_ context.Context, _ string, summaries []SummaryRow, details []DetailRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range summaries {
		l.summaries[row.FileID] = true
	}
	for _, row := range details {
		key := detailKey(row.FileID, row.Model)
		if l.details[key] == nil {
			l.details[key] = make(map[int]bool)
		}
		l.details[key][row.WindowIndex] = true
	}
	return nil
}

func (l *MemoryLedger) ResetSummaries(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = make(map[string]bool)
	return nil
}

func (l *MemoryLedger) ResetDetails(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.details = make(map[string]map[int]bool)
	return nil
}
