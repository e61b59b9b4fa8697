package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/soundscape-lab/soundscape/pkg/file"
	"github.com/soundscape-lab/soundscape/pkg/icron"
	"github.com/soundscape-lab/soundscape/pkg/log"
)

// Scheduler re-runs a Pipeline on a cron schedule so recordings added to
// the input directory are picked up. Each trigger is a fresh batch that
// resumes from the checkpoint.
type Scheduler struct {
	pipeline *Pipeline
	cron     *cron.Cron
	cronExpr string

	group singleflight.Group

	mu            sync.Mutex
	lastTrigger   time.Time
	lastSummary   *RunSummary
	runs          int
	onRunComplete func(*RunSummary, error)
}

func NewScheduler(pipeline *Pipeline, c *cron.Cron, cronExpr string) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		cron:     c,
		cronExpr: cronExpr,
	}
}

// OnRunComplete registers a callback invoked after every triggered run.
func (s *Scheduler) OnRunComplete(fn func(*RunSummary, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRunComplete = fn
}

// Schedule registers the pipeline on the cron. Overlapping triggers share the
// run already in progress.
func (s *Scheduler) Schedule(ctx context.Context) error {
	info, err := icron.GetTriggerInfo(s.cronExpr, time.Now(), 7*24*time.Hour)
	if err != nil {
		return err
	}
	log.Info("Scheduling batch runs with %q, next at %s", s.cronExpr, info.Next.Format(time.RFC3339))

	_, err = s.cron.AddFunc(s.cronExpr, func() {
		_, _ = s.Trigger(ctx)
	})
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	return nil
}

// Trigger runs the pipeline now, or waits for and shares the result of the
// run already in flight.
func (s *Scheduler) Trigger(ctx context.Context) (*RunSummary, error) {
	v, err, shared := s.group.Do("run", func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logNewRecordings()

		started := time.Now()
		summary, err := s.pipeline.Run(ctx)

		s.mu.Lock()
		s.lastTrigger = started
		s.lastSummary = summary
		s.runs++
		cb := s.onRunComplete
		s.mu.Unlock()

		if err != nil {
			log.Error("Scheduled run failed: %v", err)
		} else {
			log.Info("Scheduled run finished: %s", summary)
		}
		if cb != nil {
			cb(summary, err)
		}
		return summary, err
	})
	if shared {
		log.Debug("Trigger joined a run already in progress")
	}
	summary, _ := v.(*RunSummary)
	return summary, err
}

// Runs reports how many batches have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) LastSummary() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSummary
}

func (s *Scheduler) logNewRecordings() {
	s.mu.Lock()
	since := s.lastTrigger
	s.mu.Unlock()
	if since.IsZero() {
		return
	}

	scanner := s.pipeline.deps.Scanner
	added, err := file.FindModifiedAfter(scanner.Root(), since, scanner.Extensions()...)
	if err != nil {
		log.Warn("Failed to look for new recordings in %s: %v", scanner.Root(), err)
		return
	}
	log.Info("%d recordings added or changed since %s", len(added), since.Format(time.RFC3339))
}
