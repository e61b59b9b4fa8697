package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/soundscape-lab/soundscape/internal/classifier"
	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/persistence"
)

type mockRunStore struct {
	mock.Mock
}

func (m *mockRunStore) StartRun(ctx context.Context, run persistence.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *mockRunStore) FinishRun(ctx context.Context, run persistence.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func withStatus(status persistence.RunStatus) any {
	return mock.MatchedBy(func(run persistence.Run) bool { return run.Status == status })
}

func TestPipeline_RecordsRunLifecycle(t *testing.T) {
	h := newHarness(t, "a.wav", "b.wav")
	runs := &mockRunStore{}
	runs.On("StartRun", mock.Anything, withStatus(persistence.RunStatusRunning)).Return(nil).Once()
	runs.On("FinishRun", mock.Anything, mock.MatchedBy(func(run persistence.Run) bool {
		return run.Status == persistence.RunStatusSuccess &&
			run.Files == 2 &&
			run.Classified == 4 &&
			run.SummaryRows == 2 &&
			run.Error == ""
	})).Return(nil).Once()

	p := h.pipeline(t)
	p.deps.Runs = runs

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	runs.AssertExpectations(t)

	started := runs.Calls[0].Arguments.Get(1).(persistence.Run)
	finished := runs.Calls[1].Arguments.Get(1).(persistence.Run)
	assert.Equal(t, summary.Run, started.ID)
	assert.Equal(t, summary.Run, finished.ID)
}

func TestPipeline_CancelledRunIsInterrupted(t *testing.T) {
	h := newHarness(t, "a.wav", "b.wav")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.model(classifier.Biotic).before = func(path string) error {
		if filepath.Base(path) == "b.wav" {
			cancel()
		}
		return nil
	}

	runs := &mockRunStore{}
	runs.On("StartRun", mock.Anything, mock.Anything).Return(nil)
	runs.On("FinishRun", mock.Anything, withStatus(persistence.RunStatusInterrupted)).Return(nil).Once()

	p := h.pipeline(t)
	p.deps.Runs = runs

	summary, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Classified[classifier.Biotic])
	runs.AssertExpectations(t)
}

func TestPipeline_RunStartFailureIsFatal(t *testing.T) {
	h := newHarness(t, "a.wav")
	runs := &mockRunStore{}
	runs.On("StartRun", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	p := h.pipeline(t)
	p.deps.Runs = runs

	_, err := p.Run(context.Background())
	assert.True(t, errs.Is(err, errs.ErrFileWrite))
	runs.AssertNotCalled(t, "FinishRun", mock.Anything, mock.Anything)
	assert.Empty(t, h.model(classifier.Biotic).Calls())
}
