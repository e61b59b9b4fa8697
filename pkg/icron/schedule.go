package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes where a reference time sits in a cron schedule.
type TriggerInfo struct {
	Expression string
	Next       time.Time
	Last       time.Time

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// Parse accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30m".
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// GetTriggerInfo returns the next trigger after refTime and the most recent
// one at or before it. Last is zero if no trigger occurred within lookback.
func GetTriggerInfo(expr string, refTime time.Time, lookback time.Duration) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	// walk forward from the start of the lookback window; the last trigger not
	// after refTime is the previous one
	for t := schedule.Next(refTime.Add(-lookback)); !t.IsZero() && !t.After(refTime); t = schedule.Next(t) {
		info.Last = t
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}
