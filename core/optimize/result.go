package optimize

import (
	"errors"

	"github.com/kilianp07/connopt/core/headway"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/recovery"
)

var (
	// ErrCancelled is reported when Cancel or the context stops a run.
	ErrCancelled = errors.New("optimization cancelled")
	// ErrResourceExceeded is reported when the time or memory budget ends
	// a run early.
	ErrResourceExceeded = errors.New("optimization resource budget exceeded")
)

// Phase is the stage of an optimization run.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePrioritizing Phase = "prioritizing"
	PhaseSearching    Phase = "searching"
	PhaseValidating   Phase = "validating"
	PhaseFinalizing   Phase = "finalizing"
)

// Strategy is the search loop used by a run.
type Strategy string

const (
	StrategyGreedy      Strategy = "greedy"
	StrategyProgressive Strategy = "progressive_batched"
)

// ConnectionStatus is the outcome of one connection.
type ConnectionStatus string

const (
	StatusAlreadyIdeal ConnectionStatus = "already_ideal"
	StatusImproved     ConnectionStatus = "improved"
	StatusFailed       ConnectionStatus = "failed"
	StatusSkipped      ConnectionStatus = "skipped"
)

// ConnectionResult is the per-connection outcome of a run.
type ConnectionResult struct {
	ConnectionID string               `json:"connection_id"`
	Type         model.ConnectionType `json:"type"`
	Priority     int                  `json:"priority"`
	Status       ConnectionStatus     `json:"status"`
	Before       model.WindowType     `json:"before"`
	After        model.WindowType     `json:"after"`
	TripNumber   int                  `json:"trip_number,omitempty"`
	Shift        float64              `json:"shift,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// Termination tells why a run stopped issuing moves.
type Termination string

const (
	TerminationCompleted        Termination = "completed"
	TerminationCancelled        Termination = "cancelled"
	TerminationTimeBudget       Termination = "time_budget"
	TerminationMemoryBudget     Termination = "memory_budget"
	TerminationEarlyTermination Termination = "early_termination"
	TerminationFailed           Termination = "failed"
)

// Statistics describes how a run went.
type Statistics struct {
	Strategy            Strategy    `json:"strategy"`
	Termination         Termination `json:"termination"`
	Trips               int         `json:"trips"`
	Connections         int         `json:"connections"`
	Batches             int         `json:"batches"`
	MovesEvaluated      int         `json:"moves_evaluated"`
	MovesApplied        int         `json:"moves_applied"`
	MovesRejected       int         `json:"moves_rejected"`
	ConnectionsIdeal    int         `json:"connections_ideal"`
	ConnectionsImproved int         `json:"connections_improved"`
	ConnectionsFailed   int         `json:"connections_failed"`
	CacheHits           int         `json:"cache_hits"`
	CacheMisses         int         `json:"cache_misses"`
	DurationMs          int64       `json:"duration_ms"`
	MemoryEstimateMB    float64     `json:"memory_estimate_mb"`
	Cancelled           bool        `json:"cancelled"`
	TimedOut            bool        `json:"timed_out"`
	MemoryExceeded      bool        `json:"memory_exceeded"`
	EarlyTerminated     bool        `json:"early_terminated"`
	// HeadwaysBefore and HeadwaysAfter summarise the origin headways of the
	// input and optimized schedules.
	HeadwaysBefore headway.Stats `json:"headways_before"`
	HeadwaysAfter  headway.Stats `json:"headways_after"`
}

// Result is the outcome of an optimization run.
type Result struct {
	RunID             string                     `json:"run_id"`
	Success           bool                       `json:"success"`
	Message           string                     `json:"message,omitempty"`
	OptimizedSchedule *model.Schedule            `json:"optimized_schedule"`
	InitialScore      float64                    `json:"initial_score"`
	Score             float64                    `json:"score"`
	AppliedMoves      []Move                     `json:"applied_moves"`
	RejectedMoves     []Move                     `json:"rejected_moves"`
	Connections       []ConnectionResult         `json:"connections"`
	Bank              recovery.UtilizationReport `json:"bank"`
	Transactions      []recovery.Transaction     `json:"transactions"`
	// HeadwayCorrections lists the corrections proposed by the refinement
	// pass; Applied tells which ones reached the schedule.
	HeadwayCorrections []headway.Correction `json:"headway_corrections,omitempty"`
	HeadwayViolations  []headway.Violation  `json:"headway_violations,omitempty"`
	Statistics         Statistics           `json:"statistics"`
	Warnings           []string             `json:"warnings,omitempty"`
	Recommendations    []string             `json:"recommendations,omitempty"`
	// Interrupted is ErrCancelled or ErrResourceExceeded when the run ended
	// before every connection was processed.
	Interrupted error `json:"-"`
}

// FailureResult builds the result returned when a run cannot proceed: no
// success, a zero score and every connection failed.
func FailureResult(sched *model.Schedule, conns []model.ConnectionOpportunity, msg string) *Result {
	res := &Result{
		Success:           false,
		Message:           msg,
		OptimizedSchedule: sched.Clone(),
		Warnings:          []string{msg},
	}
	for _, c := range conns {
		res.Connections = append(res.Connections, ConnectionResult{
			ConnectionID: c.ID,
			Type:         c.Type,
			Priority:     c.Priority,
			Status:       StatusFailed,
			Before:       model.WindowMissed,
			After:        model.WindowMissed,
			Reason:       msg,
		})
	}
	res.Statistics.Termination = TerminationFailed
	res.Statistics.Connections = len(conns)
	res.Statistics.ConnectionsFailed = len(conns)
	if sched != nil {
		res.Statistics.Trips = len(sched.Trips)
	}
	return res
}
