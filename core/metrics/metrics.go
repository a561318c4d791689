package metrics

import (
	"time"

	"github.com/kilianp07/connopt/core/events"
	"github.com/kilianp07/connopt/core/optimize"
)

// RunSummary is the record written for every optimization run.
type RunSummary struct {
	RunID           string
	ScheduleID      string
	Strategy        string
	Termination     string
	Success         bool
	InitialScore    float64
	Score           float64
	Trips           int
	Connections     int
	Improved        int
	Failed          int
	MovesApplied    int
	MovesRejected   int
	TotalBorrowed   float64
	UtilizationRate float64
	Duration        time.Duration
	Time            time.Time
}

// Summarize builds the summary of res for the schedule.
func Summarize(scheduleID string, res *optimize.Result, at time.Time) RunSummary {
	st := res.Statistics
	return RunSummary{
		RunID:           res.RunID,
		ScheduleID:      scheduleID,
		Strategy:        string(st.Strategy),
		Termination:     string(st.Termination),
		Success:         res.Success,
		InitialScore:    res.InitialScore,
		Score:           res.Score,
		Trips:           st.Trips,
		Connections:     st.Connections,
		Improved:        st.ConnectionsImproved,
		Failed:          st.ConnectionsFailed,
		MovesApplied:    st.MovesApplied,
		MovesRejected:   st.MovesRejected,
		TotalBorrowed:   res.Bank.TotalBorrowed,
		UtilizationRate: res.Bank.UtilizationRate,
		Duration:        time.Duration(st.DurationMs) * time.Millisecond,
		Time:            at,
	}
}

// MetricsSink records optimization runs for observability purposes.
type MetricsSink interface {
	RecordOptimizationRun(s RunSummary) error
}

// ProgressRecorder records engine progress events.
type ProgressRecorder interface {
	RecordProgress(ev events.ProgressEvent) error
}

// MoveRecorder records evaluated moves.
type MoveRecorder interface {
	RecordMove(ev events.MoveEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOptimizationRun(RunSummary) error    { return nil }
func (NopSink) RecordProgress(events.ProgressEvent) error { return nil }
func (NopSink) RecordMove(events.MoveEvent) error         { return nil }
