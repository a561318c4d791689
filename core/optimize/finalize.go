package optimize

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/kilianp07/connopt/core/headway"
	"github.com/kilianp07/connopt/core/model"
)

// utilizationWarning is the bank utilization above which a
// recommendation is added.
const utilizationWarning = 0.8

// validate runs the headway refinement pass and audits the committed
// schedule against every hard constraint.
func (r *run) validate() {
	r.emit(PhaseValidating, 92)
	if r.interrupted == nil || r.interrupted == ErrResourceExceeded {
		r.refineHeadways()
	}
	r.audit()
	r.hwViolations = headway.ValidateHeadwayConsistency(r.state.Schedule, r.c.MinHeadway, r.target)
	high := 0
	for _, v := range r.hwViolations {
		if v.Severity == headway.SeverityHigh {
			high++
		}
	}
	if high > 0 {
		r.warn("%d headways are far outside tolerance", high)
	}
}

// refineHeadways smooths the headway errors at the last timepoint. The pass
// is committed only when it breaks no constraint and does not lower the
// score; otherwise the state snapshot taken before it is restored.
func (r *run) refineHeadways() {
	if r.c.DisableHeadwayCorrection || r.target <= 0 || r.lastTimepoint == "" {
		return
	}
	var devs []headway.Deviation
	for _, d := range headway.DeviationsAt(r.state.Schedule, r.lastTimepoint, r.target) {
		if math.Abs(d.Minutes) > r.c.HeadwayThreshold {
			devs = append(devs, d)
		}
	}
	r.state.HeadwayDeviations = devs
	if len(devs) == 0 {
		return
	}
	proposed, corrections := r.headways.CorrectHeadwaysWithinBlocks(r.state.Schedule, devs, r.c, r.state.Locked)
	mv := Move{
		ID:     uuid.NewString(),
		Kind:   MoveHeadwayAdjust,
		Detail: HeadwayAdjustDetail{Corrections: corrections},
	}
	var applied []headway.Correction
	for _, c := range corrections {
		if c.Applied {
			applied = append(applied, c)
		}
	}
	if len(applied) == 0 {
		r.corrections = corrections
		return
	}
	totals := headway.Totals(applied)
	for n := range totals {
		mv.AffectedTrips = append(mv.AffectedTrips, n)
	}
	sort.Ints(mv.AffectedTrips)
	for _, n := range mv.AffectedTrips {
		if math.Abs(totals[n]) > math.Abs(mv.TimeAdjustment) {
			mv.TimeAdjustment = totals[n]
		}
	}
	r.stats.MovesEvaluated++

	index := proposed.TripIndex()
	for _, n := range mv.AffectedTrips {
		if d := maxDeviation(r.origTrips[n], index[n]); d > r.c.MaxTripDeviation+eps {
			mv.ConstraintViolations = append(mv.ConstraintViolations, Violation{Kind: ViolationDeviation, TripNumber: n,
				Message: fmt.Sprintf("trip %d would deviate %.1f minutes, max %.1f", n, d, r.c.MaxTripDeviation)})
		}
	}
	mults := make(map[string]float64, len(r.conns))
	for _, c := range r.conns {
		mults[c.ID] = r.scorer.evaluateFresh(proposed, c).result.Multiplier
	}
	score := weightedScore(r.conns, mults)
	mv.ScoreImprovement = score - r.state.Score

	snapshot := r.state.Clone()
	r.state.Schedule = proposed
	r.state.Multipliers = mults
	r.state.Score = score
	r.state.Revision++
	if len(mv.ConstraintViolations) == 0 && mv.ScoreImprovement < -eps {
		mv.Reason = "headway refinement lowers the connection score"
	}
	if len(mv.ConstraintViolations) > 0 || mv.Reason != "" {
		r.state = snapshot
		r.trips = r.state.Schedule.TripIndex()
		reason := rejectionReason(mv)
		for i := range corrections {
			if corrections[i].Applied {
				corrections[i].Applied = false
				corrections[i].Reason = "refinement rejected: " + reason
			}
		}
		mv.Detail = HeadwayAdjustDetail{Corrections: corrections}
		r.corrections = corrections
		r.reject(mv, mv.Detail)
		return
	}

	r.corrections = corrections
	r.trips = index
	r.state.AppliedMoves = append(r.state.AppliedMoves, mv)
	r.stats.MovesApplied++
	movesTotal.WithLabelValues(string(mv.Kind), "applied").Inc()
	r.e.log.Debugw("headway refinement applied", map[string]any{
		"run": r.id, "trips": len(mv.AffectedTrips), "score": score,
	})
}

// audit rechecks the committed schedule. Any finding means a bug in move
// validation and is surfaced as a warning.
func (r *run) audit() {
	for _, block := range r.state.Schedule.Blocks() {
		for i, t := range block {
			if d := maxDeviation(r.origTrips[t.TripNumber], t); d > r.c.MaxTripDeviation+eps {
				r.warn("audit: trip %d deviates %.1f minutes", t.TripNumber, d)
			}
			if i > 0 && block[i-1].DepartureTime > t.DepartureTime {
				r.warn("audit: block %d out of order at trip %d", t.BlockNumber, t.TripNumber)
			}
		}
	}
	for _, a := range r.state.Bank.Accounts() {
		if a.AvailableCredit < -eps || a.Lent() > a.MaxCredit+eps {
			r.warn("audit: stop %s over-lent", a.StopID)
		}
	}
}

func (r *run) finalize() *Result {
	r.emit(PhaseFinalizing, 96)
	res := &Result{
		RunID:              r.id,
		Success:            true,
		OptimizedSchedule:  r.state.Schedule,
		InitialScore:       r.initialScore,
		Score:              r.state.Score,
		AppliedMoves:       r.state.AppliedMoves,
		RejectedMoves:      r.state.RejectedMoves,
		Bank:               r.state.Bank.GenerateUtilizationReport(),
		Transactions:       r.state.Bank.Transactions(),
		HeadwayCorrections: r.corrections,
		HeadwayViolations:  r.hwViolations,
		Interrupted:        r.interrupted,
	}
	for _, c := range r.conns {
		cr := r.results[c.ID]
		ev := r.scorer.evaluate(r.state.Schedule, r.state.Revision, c)
		cr.After = ev.result.Classification
		if ev.ok {
			cr.TripNumber = ev.trip
		}
		switch cr.Status {
		case StatusAlreadyIdeal:
			r.stats.ConnectionsIdeal++
		case StatusImproved:
			r.stats.ConnectionsImproved++
		case StatusFailed:
			r.stats.ConnectionsFailed++
		}
		res.Connections = append(res.Connections, *cr)
	}
	r.stats.CacheHits = r.scorer.hits() + r.departures.hits
	r.stats.CacheMisses = r.scorer.misses() + r.departures.misses
	r.stats.MemoryEstimateMB = r.memoryEstimate()
	r.stats.Termination = r.termination()
	r.stats.HeadwaysBefore = headway.HeadwayStats(r.original)
	r.stats.HeadwaysAfter = headway.HeadwayStats(r.state.Schedule)
	res.Statistics = r.stats
	res.Recommendations = r.recommendations()
	res.Warnings = r.warnings
	switch {
	case r.interrupted != nil:
		res.Message = fmt.Sprintf("%v: %d of %d connections processed", r.interrupted, r.processed, len(r.conns))
	case r.stats.EarlyTerminated:
		res.Message = fmt.Sprintf("score %.3f reached early termination threshold", res.Score)
	default:
		res.Message = fmt.Sprintf("score %.3f -> %.3f", res.InitialScore, res.Score)
	}
	r.emit(PhaseFinalizing, 100)
	r.e.log.Infow("optimization finished", map[string]any{
		"run": r.id, "schedule": r.original.ID, "initial_score": res.InitialScore, "score": res.Score,
		"applied": len(res.AppliedMoves), "rejected": len(res.RejectedMoves), "strategy": string(r.strategy),
	})
	return res
}

func (r *run) termination() Termination {
	switch {
	case r.stats.Cancelled:
		return TerminationCancelled
	case r.stats.TimedOut:
		return TerminationTimeBudget
	case r.stats.MemoryExceeded:
		return TerminationMemoryBudget
	case r.stats.EarlyTerminated:
		return TerminationEarlyTermination
	default:
		return TerminationCompleted
	}
}

func (r *run) recommendations() []string {
	analysis := r.e.windows.AnalyzeAllConnections(r.state.Schedule, r.conns)
	out := append([]string(nil), analysis.Recommendations...)
	deviation, funding := 0, 0
	for _, m := range r.state.RejectedMoves {
		for _, v := range m.ConstraintViolations {
			switch v.Kind {
			case ViolationDeviation:
				deviation++
			case ViolationFunding:
				funding++
			}
		}
	}
	if deviation > 0 {
		out = append(out, fmt.Sprintf("%d moves exceeded the max trip deviation of %.0f minutes", deviation, r.c.MaxTripDeviation))
	}
	if funding > 0 {
		out = append(out, fmt.Sprintf("%d moves could not be funded by the recovery bank; add recovery at terminals", funding))
	}
	if u := r.state.Bank.UtilizationRate(); u > utilizationWarning {
		out = append(out, fmt.Sprintf("recovery bank utilization at %.0f%%", u*100))
	}
	if r.stats.ConnectionsFailed == 0 && len(r.conns) > 0 && r.state.Score >= r.c.EarlyTerminationScore {
		return out
	}
	if missed := countMissed(r.conns, r.results); missed > 0 {
		out = append(out, fmt.Sprintf("%d connections remain missed", missed))
	}
	return out
}

func countMissed(conns []model.ConnectionOpportunity, results map[string]*ConnectionResult) int {
	n := 0
	for _, c := range conns {
		if results[c.ID].After == model.WindowMissed {
			n++
		}
	}
	return n
}
